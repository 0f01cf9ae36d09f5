package codec

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

var articleTypes = TypeMap{
	"author_id": "integer",
	"title":     "string",
	"body":      "text",
	"settings":  "json",
	"rating":    "float",
	"price":     "decimal",
	"active":    "boolean",
	"published": "datetime",
	"day":       "date",
	"ref":       "uuid",
	"blob":      "binary",
}

func TestConvertToStorage(t *testing.T) {
	fields := map[string]any{
		"settings":  map[string]any{"test": "array"},
		"author_id": 1,
		"body":      "text",
		"active":    true,
		"rating":    2.5,
	}

	stored, err := Default().Convert(fields, articleTypes, ToStorage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := map[string]any{
		"settings":  `{"test":"array"}`,
		"author_id": "1",
		"body":      "text",
		"active":    "true",
		"rating":    "2.5",
	}
	if !reflect.DeepEqual(stored, expected) {
		t.Fatalf("expected %#v, got %#v", expected, stored)
	}
}

func TestConvertToNative(t *testing.T) {
	fields := map[string]any{
		"settings":  `{"test":"array"}`,
		"author_id": "1",
		"body":      "text",
		"active":    "1",
	}

	native, err := Default().Convert(fields, articleTypes, ToNative)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got, ok := native["author_id"].(int64); !ok || got != 1 {
		t.Fatalf("expected author_id int64(1), got %#v", native["author_id"])
	}
	if !reflect.DeepEqual(native["settings"], map[string]any{"test": "array"}) {
		t.Fatalf("unexpected settings %#v", native["settings"])
	}
	if native["body"] != "text" {
		t.Fatalf("unexpected body %#v", native["body"])
	}
	if native["active"] != true {
		t.Fatalf("unexpected active %#v", native["active"])
	}
}

func TestConvertInvalidDirection(t *testing.T) {
	_, err := Default().Convert(map[string]any{"title": "x"}, articleTypes, Direction(42))
	if !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("expected ErrInvalidDirection, got %v", err)
	}

	_, err = Default().Convert(nil, articleTypes, Direction(0))
	if !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("expected ErrInvalidDirection for empty input, got %v", err)
	}
}

func TestConvertKeepsNil(t *testing.T) {
	out, err := Default().Convert(map[string]any{"settings": nil, "author_id": nil}, articleTypes, ToStorage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["settings"] != nil || out["author_id"] != nil {
		t.Fatalf("expected nil values to stay nil, got %#v", out)
	}
}

func TestRoundTrip(t *testing.T) {
	published := time.Date(2024, 3, 9, 14, 30, 15, 123000000, time.UTC)
	ref := uuid.MustParse("123e4567-e89b-12d3-a456-426614174000")

	cases := []struct {
		field string
		value any
	}{
		{"author_id", int64(42)},
		{"author_id", int64(-7)},
		{"title", "First Article"},
		{"body", ""},
		{"settings", map[string]any{"test": "array", "nested": []any{"a", "b"}}},
		{"settings", []any{float64(1), "two"}},
		{"rating", 3.25},
		{"price", "10.50"},
		{"active", false},
		{"ref", ref},
		{"blob", []byte{0x00, 0xff, 0x10}},
	}

	for _, tc := range cases {
		stored, err := Default().Value(articleTypes.ColumnType(tc.field), tc.value, ToStorage)
		if err != nil {
			t.Fatalf("%s: to storage: %v", tc.field, err)
		}
		if _, ok := stored.(string); !ok {
			t.Fatalf("%s: expected stored text, got %T", tc.field, stored)
		}
		native, err := Default().Value(articleTypes.ColumnType(tc.field), stored, ToNative)
		if err != nil {
			t.Fatalf("%s: to native: %v", tc.field, err)
		}
		if !reflect.DeepEqual(native, tc.value) {
			t.Errorf("%s: round trip mismatch: expected %#v got %#v", tc.field, tc.value, native)
		}
	}

	stored, err := Default().Value("datetime", published, ToStorage)
	if err != nil {
		t.Fatalf("datetime to storage: %v", err)
	}
	native, err := Default().Value("datetime", stored, ToNative)
	if err != nil {
		t.Fatalf("datetime to native: %v", err)
	}
	if got := native.(time.Time); !got.Equal(published) {
		t.Fatalf("datetime round trip mismatch: %v vs %v", got, published)
	}
}

func TestIntegerRejectsGarbage(t *testing.T) {
	_, err := Default().Value("integer", "abc", ToNative)
	if !errors.Is(err, ErrUnsupportedValue) {
		t.Fatalf("expected ErrUnsupportedValue, got %v", err)
	}
}

func TestIntegerRejectsUnsignedOverflow(t *testing.T) {
	for _, value := range []any{uint64(math.MaxUint64), uint64(math.MaxInt64) + 1, uint(math.MaxUint64)} {
		for _, direction := range []Direction{ToStorage, ToNative} {
			_, err := Default().Value("integer", value, direction)
			if !errors.Is(err, ErrUnsupportedValue) {
				t.Fatalf("%v %#v: expected ErrUnsupportedValue, got %v", direction, value, err)
			}
		}
	}

	stored, err := Default().Value("integer", uint64(math.MaxInt64), ToStorage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored != "9223372036854775807" {
		t.Fatalf("expected max int64, got %#v", stored)
	}
}

func TestTimeKeepsFractionalSeconds(t *testing.T) {
	value := time.Date(0, 1, 1, 14, 30, 15, 123456789, time.UTC)
	stored, err := Default().Value("time", value, ToStorage)
	if err != nil {
		t.Fatalf("to storage: %v", err)
	}
	if stored != "14:30:15.123456789" {
		t.Fatalf("unexpected stored time %#v", stored)
	}
	native, err := Default().Value("time", stored, ToNative)
	if err != nil {
		t.Fatalf("to native: %v", err)
	}
	if got := native.(time.Time); !got.Equal(value) {
		t.Fatalf("time round trip mismatch: %v vs %v", got, value)
	}

	whole, err := Default().Value("time", "09:05:00", ToNative)
	if err != nil {
		t.Fatalf("whole seconds: %v", err)
	}
	if got := whole.(time.Time); got.Hour() != 9 || got.Minute() != 5 || got.Nanosecond() != 0 {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestIntegerLeadingZeroIsDecimal(t *testing.T) {
	n, err := Default().Value("integer", "010", ToNative)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != int64(10) {
		t.Fatalf("expected 10, got %#v", n)
	}
}

func TestUnknownTypeFallsBackToText(t *testing.T) {
	out, err := Default().Value("geometry", 12, ToStorage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "12" {
		t.Fatalf("expected text fallback, got %#v", out)
	}
}

type upperType struct{}

func (upperType) ToStorage(value any) (any, error) { return "U:" + value.(string), nil }
func (upperType) ToNative(value any) (any, error)  { return value.(string)[2:], nil }

func TestRegisterCustomType(t *testing.T) {
	r := NewRegistry()
	r.Register("Shout", upperType{})

	out, err := r.Convert(map[string]any{"x": "hi"}, TypeMap{"x": "shout"}, ToStorage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["x"] != "U:hi" {
		t.Fatalf("expected custom type to be used, got %#v", out["x"])
	}
}

func TestNormalizeNumbers(t *testing.T) {
	out := NormalizeNumbers(map[string]any{
		"author_id": json.Number("42"),
		"rating":    json.Number("3.5"),
		"title":     "x",
	})
	if out["author_id"] != int64(42) || out["rating"] != 3.5 || out["title"] != "x" {
		t.Fatalf("unexpected values %#v", out)
	}
}
