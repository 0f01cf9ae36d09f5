package repository

import (
	"encoding/json"
	"fmt"

	"github.com/rpattn/fieldver/internal/codec"
	"github.com/rpattn/fieldver/internal/schema"
)

// columnArg prepares an entity value for a statement argument. JSON columns
// receive encoded text, binary columns raw bytes, and every other typed
// column its native Go value.
func columnArg(registry *codec.Registry, table schema.Table, column string, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch typ := table.ColumnType(column); typ {
	case "":
		return value, nil
	case "json":
		switch v := value.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		case json.RawMessage:
			return string(v), nil
		}
		return registry.Value(typ, value, codec.ToStorage)
	case "binary":
		switch v := value.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}
		return nil, fmt.Errorf("%w: binary column %s got %T", codec.ErrUnsupportedValue, column, value)
	default:
		return registry.Value(typ, value, codec.ToNative)
	}
}

// hydrateValue converts a scanned column value to its native Go value.
func hydrateValue(registry *codec.Registry, table schema.Table, column string, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch typ := table.ColumnType(column); typ {
	case "binary":
		if b, ok := value.([]byte); ok {
			return append([]byte(nil), b...), nil
		}
		return value, nil
	case "":
		if b, ok := value.([]byte); ok {
			return string(b), nil
		}
		return value, nil
	default:
		return registry.Value(typ, value, codec.ToNative)
	}
}

// hydrateRow converts a scanned row in place.
func hydrateRow(registry *codec.Registry, table schema.Table, row map[string]any) error {
	for column, value := range row {
		native, err := hydrateValue(registry, table, column, value)
		if err != nil {
			return fmt.Errorf("failed to read column %s.%s: %w", table.Name, column, err)
		}
		row[column] = native
	}
	return nil
}
