// Package schema describes the columns, declared types and primary keys of
// relational tables.
package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrTableNotFound is returned when a table cannot be described.
var ErrTableNotFound = errors.New("table not found")

// Column is one column of a table. Type is the normalised type name used by
// the codec registry.
type Column struct {
	Name          string
	Type          string
	Nullable      bool
	AutoIncrement bool
}

// Table describes a table. Column order follows the table definition.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
}

// Provider describes tables of a database.
type Provider interface {
	Describe(ctx context.Context, table string) (Table, error)
	ListTables(ctx context.Context) ([]string, error)
}

// ColumnNames returns the column names in definition order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the named column.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether the table has the named column.
func (t Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// ColumnType returns the normalised type of the named column, or "" when
// the column does not exist.
func (t Table) ColumnType(name string) string {
	c, _ := t.Column(name)
	return c.Type
}

// IsPrimaryKey reports whether the column is part of the primary key.
func (t Table) IsPrimaryKey(name string) bool {
	for _, pk := range t.PrimaryKey {
		if pk == name {
			return true
		}
	}
	return false
}

// Validate checks that primary key columns exist.
func (t Table) Validate() error {
	if t.Name == "" {
		return errors.New("table name is required")
	}
	for _, pk := range t.PrimaryKey {
		if !t.HasColumn(pk) {
			return fmt.Errorf("primary key column %s missing from table %s", pk, t.Name)
		}
	}
	return nil
}

// NormalizeType maps a declared SQL type onto a codec type name.
func NormalizeType(declared string) string {
	t := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch {
	case t == "":
		return "text"
	case t == "uuid":
		return "uuid"
	case t == "json" || t == "jsonb":
		return "json"
	case t == "bigint" || t == "int8" || t == "bigserial":
		return "biginteger"
	case t == "smallint" || t == "int2" || t == "smallserial":
		return "smallinteger"
	case t == "tinyint":
		return "tinyinteger"
	case t == "integer" || t == "int" || t == "int4" || t == "mediumint" || t == "serial":
		return "integer"
	case t == "boolean" || t == "bool":
		return "boolean"
	case t == "numeric" || t == "decimal":
		return "decimal"
	case strings.Contains(t, "double") || t == "real" || t == "float" || t == "float4" || t == "float8":
		return "float"
	case strings.HasPrefix(t, "timestamp") || t == "datetime":
		return "datetime"
	case t == "date":
		return "date"
	case strings.HasPrefix(t, "time"):
		return "time"
	case t == "bytea" || t == "blob" || strings.Contains(t, "binary"):
		return "binary"
	case t == "text" || t == "clob" || strings.Contains(t, "text"):
		return "text"
	case strings.Contains(t, "char") || t == "string":
		return "string"
	default:
		return "text"
	}
}

// Static is an in-memory Provider.
type Static map[string]Table

// Describe implements Provider.
func (s Static) Describe(_ context.Context, table string) (Table, error) {
	t, ok := s[table]
	if !ok {
		return Table{}, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return t, nil
}

// ListTables implements Provider.
func (s Static) ListTables(context.Context) ([]string, error) {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
