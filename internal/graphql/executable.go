package graphql

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	gqlgen "github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

//go:embed schema.graphql
var schemaSource string

// fieldFunc resolves one field of an object. obj is the parent value, nil
// for root fields.
type fieldFunc func(ctx context.Context, obj any, args map[string]any) (any, error)

// ExecutableSchema serves the record schema to a gqlgen handler. Fields are
// resolved through the resolver table built by NewExecutableSchema.
type ExecutableSchema struct {
	schema *ast.Schema
	fields map[string]map[string]fieldFunc
}

var _ gqlgen.ExecutableSchema = (*ExecutableSchema)(nil)

// NewExecutableSchema loads the schema and binds it to r.
func NewExecutableSchema(r *Resolver) (*ExecutableSchema, error) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "schema.graphql", Input: schemaSource})
	if err != nil {
		return nil, fmt.Errorf("failed to load graphql schema: %w", err)
	}
	es := &ExecutableSchema{schema: schema, fields: r.fields()}

	for typeName, fields := range es.fields {
		def := schema.Types[typeName]
		if def == nil {
			return nil, fmt.Errorf("resolver bound to unknown type %s", typeName)
		}
		for name := range fields {
			if def.Fields.ForName(name) == nil {
				return nil, fmt.Errorf("resolver bound to unknown field %s.%s", typeName, name)
			}
		}
	}
	return es, nil
}

// Schema implements graphql.ExecutableSchema.
func (es *ExecutableSchema) Schema() *ast.Schema {
	return es.schema
}

// Complexity implements graphql.ExecutableSchema. No field carries a custom
// complexity.
func (es *ExecutableSchema) Complexity(ctx context.Context, typeName, fieldName string, childComplexity int, args map[string]any) (int, bool) {
	return 0, false
}

// Exec implements graphql.ExecutableSchema.
func (es *ExecutableSchema) Exec(ctx context.Context) gqlgen.ResponseHandler {
	oc := gqlgen.GetOperationContext(ctx)

	var root *ast.Definition
	switch oc.Operation.Operation {
	case ast.Query:
		root = es.schema.Query
	case ast.Mutation:
		root = es.schema.Mutation
	default:
		return gqlgen.OneShot(&gqlgen.Response{Errors: gqlerror.List{
			gqlerror.Errorf("unsupported operation %s", oc.Operation.Operation),
		}})
	}

	ec := &execution{schema: es, oc: oc}
	data := ec.object(ctx, root, oc.Operation.SelectionSet, nil, nil, oc.Operation.Operation == ast.Query)

	payload, err := json.Marshal(data)
	if err != nil {
		return gqlgen.OneShot(&gqlgen.Response{Errors: gqlerror.List{gqlerror.Errorf("failed to encode response: %v", err)}})
	}
	return gqlgen.OneShot(&gqlgen.Response{Data: payload, Errors: ec.errors})
}

// execution walks the selection set of one operation.
type execution struct {
	schema *ExecutableSchema
	oc     *gqlgen.OperationContext

	mu     sync.Mutex
	errors gqlerror.List
}

func (ec *execution) addError(field gqlgen.CollectedField, path ast.Path, err error) {
	e := &gqlerror.Error{Err: err, Message: err.Error(), Path: path}
	if field.Position != nil {
		e.Locations = []gqlerror.Location{{Line: field.Position.Line, Column: field.Position.Column}}
	}
	ec.mu.Lock()
	ec.errors = append(ec.errors, e)
	ec.mu.Unlock()
}

// object resolves the selected fields of obj. Query fields run
// concurrently; mutation fields run in document order.
func (ec *execution) object(ctx context.Context, def *ast.Definition, selections ast.SelectionSet, obj any, path ast.Path, concurrent bool) *orderedObject {
	fields := gqlgen.CollectFields(ec.oc, selections, []string{def.Name})
	out := &orderedObject{keys: make([]string, len(fields)), values: make([]any, len(fields))}

	var wg sync.WaitGroup
	for i, field := range fields {
		out.keys[i] = field.Alias
		if field.Name == "__typename" {
			out.values[i] = def.Name
			continue
		}
		fieldPath := appendPath(path, ast.PathName(field.Alias))
		if !concurrent {
			out.values[i] = ec.field(ctx, def, field, obj, fieldPath)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			out.values[i] = ec.field(ctx, def, field, obj, fieldPath)
		}()
	}
	wg.Wait()
	return out
}

func (ec *execution) field(ctx context.Context, def *ast.Definition, field gqlgen.CollectedField, obj any, path ast.Path) any {
	resolve := ec.schema.fields[def.Name][field.Name]
	if resolve == nil {
		ec.addError(field, path, fmt.Errorf("field %s.%s has no resolver", def.Name, field.Name))
		return nil
	}
	args := field.ArgumentMap(ec.oc.Variables)

	fc := &gqlgen.FieldContext{
		Parent:     gqlgen.GetFieldContext(ctx),
		Object:     def.Name,
		Field:      field,
		Args:       args,
		IsMethod:   true,
		IsResolver: true,
	}
	ctx = gqlgen.WithFieldContext(ctx, fc)

	next := func(ctx context.Context) (any, error) {
		return resolve(ctx, obj, args)
	}
	var (
		result any
		err    error
	)
	if ec.oc.ResolverMiddleware != nil {
		result, err = ec.oc.ResolverMiddleware(ctx, next)
	} else {
		result, err = next(ctx)
	}
	if err != nil {
		ec.addError(field, path, err)
		return nil
	}
	fc.Result = result
	return ec.complete(ctx, field.Definition.Type, field, result, path)
}

// complete shapes a resolved value after the declared field type.
func (ec *execution) complete(ctx context.Context, typ *ast.Type, field gqlgen.CollectedField, value any, path ast.Path) any {
	if isNil(value) {
		if typ.NonNull {
			ec.addError(field, path, fmt.Errorf("must not be null"))
		}
		return nil
	}

	if typ.Elem != nil {
		list := reflect.ValueOf(value)
		if list.Kind() != reflect.Slice {
			ec.addError(field, path, fmt.Errorf("expected a list, got %T", value))
			return nil
		}
		out := make([]any, list.Len())
		var wg sync.WaitGroup
		for i := range out {
			wg.Add(1)
			go func() {
				defer wg.Done()
				out[i] = ec.complete(ctx, typ.Elem, field, list.Index(i).Interface(), appendPath(path, ast.PathIndex(i)))
			}()
		}
		wg.Wait()
		return out
	}

	def := ec.schema.schema.Types[typ.NamedType]
	switch def.Kind {
	case ast.Object:
		return ec.object(ctx, def, field.Selections, value, path, true)
	default:
		return value
	}
}

func appendPath(path ast.Path, element ast.PathElement) ast.Path {
	out := make(ast.Path, len(path), len(path)+1)
	copy(out, path)
	return append(out, element)
}

// isNil reports nil values and typed nil pointers. A nil slice is an
// empty list.
func isNil(value any) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// orderedObject keeps response fields in selection order.
type orderedObject struct {
	keys   []string
	values []any
}

func (o *orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(o.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
