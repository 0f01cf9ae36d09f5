package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
)

const (
	datetimeLayout  = time.RFC3339Nano
	dateLayout      = "2006-01-02"
	timeOfDayLayout = "15:04:05.999999999"
)

type integerType struct{}

func (integerType) ToStorage(value any) (any, error) {
	n, err := toInt64(value)
	if err != nil {
		return nil, err
	}
	return strconv.FormatInt(n, 10), nil
}

func (integerType) ToNative(value any) (any, error) {
	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	if s, ok := value.(string); ok {
		// cast treats a leading zero as octal
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: integer %q", ErrUnsupportedValue, s)
		}
		return n, nil
	}
	return toInt64(value)
}

// toInt64 rejects unsigned values that do not fit in an int64 instead of
// letting them wrap.
func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, fmt.Errorf("%w: integer %d overflows int64", ErrUnsupportedValue, v)
		}
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("%w: integer %d overflows int64", ErrUnsupportedValue, v)
		}
	}
	n, err := cast.ToInt64E(value)
	if err != nil {
		return 0, fmt.Errorf("%w: integer %v: %v", ErrUnsupportedValue, value, err)
	}
	return n, nil
}

type floatType struct{}

func (floatType) ToStorage(value any) (any, error) {
	f, err := cast.ToFloat64E(value)
	if err != nil {
		return nil, fmt.Errorf("%w: float %v: %v", ErrUnsupportedValue, value, err)
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}

func (floatType) ToNative(value any) (any, error) {
	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	f, err := cast.ToFloat64E(value)
	if err != nil {
		return nil, fmt.Errorf("%w: float %v: %v", ErrUnsupportedValue, value, err)
	}
	return f, nil
}

// decimalType keeps the exact textual digits in both directions.
type decimalType struct{}

func (decimalType) ToStorage(value any) (any, error) {
	switch v := value.(type) {
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return nil, fmt.Errorf("%w: decimal %v: %v", ErrUnsupportedValue, value, err)
	}
	return s, nil
}

func (d decimalType) ToNative(value any) (any, error) {
	return d.ToStorage(value)
}

type boolType struct{}

func (boolType) ToStorage(value any) (any, error) {
	b, err := cast.ToBoolE(value)
	if err != nil {
		return nil, fmt.Errorf("%w: boolean %v: %v", ErrUnsupportedValue, value, err)
	}
	return strconv.FormatBool(b), nil
}

func (boolType) ToNative(value any) (any, error) {
	if raw, ok := value.([]byte); ok {
		value = string(raw)
	}
	b, err := cast.ToBoolE(value)
	if err != nil {
		return nil, fmt.Errorf("%w: boolean %v: %v", ErrUnsupportedValue, value, err)
	}
	return b, nil
}

type stringType struct{}

func (stringType) ToStorage(value any) (any, error) {
	if b, ok := value.([]byte); ok {
		return string(b), nil
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return nil, fmt.Errorf("%w: string %T", ErrUnsupportedValue, value)
	}
	return s, nil
}

func (t stringType) ToNative(value any) (any, error) {
	return t.ToStorage(value)
}

type uuidType struct{}

func (uuidType) ToStorage(value any) (any, error) {
	id, err := parseUUID(value)
	if err != nil {
		return nil, err
	}
	return id.String(), nil
}

func (uuidType) ToNative(value any) (any, error) {
	return parseUUID(value)
}

func parseUUID(value any) (uuid.UUID, error) {
	switch v := value.(type) {
	case uuid.UUID:
		return v, nil
	case [16]byte:
		return uuid.UUID(v), nil
	case []byte:
		if len(v) == 16 {
			return uuid.FromBytes(v)
		}
		value = string(v)
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: uuid %T", ErrUnsupportedValue, value)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: uuid %q: %v", ErrUnsupportedValue, s, err)
	}
	return id, nil
}

type jsonType struct{}

func (jsonType) ToStorage(value any) (any, error) {
	if raw, ok := value.(json.RawMessage); ok {
		return string(raw), nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrUnsupportedValue, err)
	}
	return string(encoded), nil
}

func (jsonType) ToNative(value any) (any, error) {
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		// already decoded by the driver
		return value, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrUnsupportedValue, err)
	}
	return decoded, nil
}

type timeType struct {
	layout string
}

func (t timeType) ToStorage(value any) (any, error) {
	parsed, err := t.parse(value)
	if err != nil {
		return nil, err
	}
	return parsed.Format(t.layout), nil
}

func (t timeType) ToNative(value any) (any, error) {
	return t.parse(value)
}

func (t timeType) parse(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case []byte:
		value = string(v)
	}
	if s, ok := value.(string); ok {
		if parsed, err := time.Parse(t.layout, s); err == nil {
			return parsed, nil
		}
	}
	parsed, err := cast.ToTimeE(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %v: %v", ErrUnsupportedValue, value, err)
	}
	return parsed, nil
}

type binaryType struct{}

func (binaryType) ToStorage(value any) (any, error) {
	switch v := value.(type) {
	case []byte:
		return base64.StdEncoding.EncodeToString(v), nil
	case string:
		return base64.StdEncoding.EncodeToString([]byte(v)), nil
	}
	return nil, fmt.Errorf("%w: binary %T", ErrUnsupportedValue, value)
}

func (binaryType) ToNative(value any) (any, error) {
	var s string
	switch v := value.(type) {
	case []byte:
		s = string(v)
	case string:
		s = v
	default:
		return nil, fmt.Errorf("%w: binary %T", ErrUnsupportedValue, value)
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: binary: %v", ErrUnsupportedValue, err)
	}
	return decoded, nil
}
