// Package codec converts field values between their in-memory form and the
// text stored in a version row, dispatching on the declared column type.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Direction selects which way Convert translates values.
type Direction int

const (
	// ToStorage serializes native values into their stored text form.
	ToStorage Direction = iota + 1
	// ToNative parses stored text back into native values.
	ToNative
)

func (d Direction) String() string {
	switch d {
	case ToStorage:
		return "toStorage"
	case ToNative:
		return "toNative"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

var (
	// ErrInvalidDirection is returned when Convert is given an unknown direction.
	ErrInvalidDirection = errors.New("invalid conversion direction")
	// ErrUnsupportedValue is returned when a value cannot be represented by a type.
	ErrUnsupportedValue = errors.New("unsupported value")
)

// Type converts values of one declared column type. Implementations receive
// nil only if the registry is bypassed; Convert keeps nil as nil.
type Type interface {
	ToStorage(value any) (any, error)
	ToNative(value any) (any, error)
}

// TypeResolver reports the declared type name of a column.
type TypeResolver interface {
	ColumnType(column string) string
}

// Registry maps declared column type names to Type implementations.
type Registry struct {
	mu       sync.RWMutex
	types    map[string]Type
	fallback Type
}

// NewRegistry returns a registry populated with the built-in types.
func NewRegistry() *Registry {
	r := &Registry{types: map[string]Type{}, fallback: stringType{}}
	for _, name := range []string{"integer", "biginteger", "smallinteger", "tinyinteger"} {
		r.types[name] = integerType{}
	}
	r.types["float"] = floatType{}
	r.types["decimal"] = decimalType{}
	r.types["boolean"] = boolType{}
	for _, name := range []string{"string", "text", "char"} {
		r.types[name] = stringType{}
	}
	r.types["uuid"] = uuidType{}
	r.types["json"] = jsonType{}
	r.types["datetime"] = timeType{layout: datetimeLayout}
	r.types["timestamp"] = timeType{layout: datetimeLayout}
	r.types["date"] = timeType{layout: dateLayout}
	r.types["time"] = timeType{layout: timeOfDayLayout}
	r.types["binary"] = binaryType{}
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the shared registry with the built-in types.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Register adds or replaces the Type used for a declared type name.
func (r *Registry) Register(name string, t Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[strings.ToLower(name)] = t
}

// Lookup returns the Type for a declared type name. Unknown names resolve to
// the text type.
func (r *Registry) Lookup(name string) Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.types[strings.ToLower(name)]; ok {
		return t
	}
	return r.fallback
}

// Names lists the registered type names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Value converts a single value of the given declared type.
func (r *Registry) Value(typeName string, value any, direction Direction) (any, error) {
	if direction != ToStorage && direction != ToNative {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDirection, direction)
	}
	if value == nil {
		return nil, nil
	}
	t := r.Lookup(typeName)
	if direction == ToStorage {
		return t.ToStorage(value)
	}
	return t.ToNative(value)
}

// Convert translates every value in values using the declared type of the
// field with the same name. The direction is validated before any field is
// touched.
func (r *Registry) Convert(values map[string]any, types TypeResolver, direction Direction) (map[string]any, error) {
	if direction != ToStorage && direction != ToNative {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDirection, direction)
	}
	out := make(map[string]any, len(values))
	for field, value := range values {
		converted, err := r.Value(types.ColumnType(field), value, direction)
		if err != nil {
			return nil, fmt.Errorf("failed to convert field %s: %w", field, err)
		}
		out[field] = converted
	}
	return out, nil
}

// TypeMap is a TypeResolver backed by a plain map.
type TypeMap map[string]string

// ColumnType implements TypeResolver.
func (m TypeMap) ColumnType(column string) string {
	return m[column]
}

// NormalizeNumbers turns decoded json.Number values into int64 or float64.
func NormalizeNumbers(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				out[k] = i
				continue
			}
			f, _ := n.Float64()
			out[k] = f
			continue
		}
		out[k] = v
	}
	return out
}
