package versioning

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingPrimaryKey is returned when versioning is attached to a table
// without a primary key.
var ErrMissingPrimaryKey = errors.New("versioned table has no primary key")

const (
	DefaultVersionTable = "version"
	DefaultVersionField = "version_id"
	DefaultForeignKey   = "foreign_key"
)

// AdditionalField maps a supplementary version table column onto an
// attribute of the reconstructed versions.
type AdditionalField struct {
	Name   string
	Column string
}

// ParseAdditionalField parses "column" or "name:column". A bare column is
// exposed as "version_<column>".
func ParseAdditionalField(entry string) (AdditionalField, error) {
	entry = strings.TrimSpace(entry)
	name, column, mapped := strings.Cut(entry, ":")
	if !mapped {
		column = name
		name = "version_" + column
	}
	name = strings.TrimSpace(name)
	column = strings.TrimSpace(column)
	if name == "" || column == "" {
		return AdditionalField{}, fmt.Errorf("invalid additional version field %q", entry)
	}
	return AdditionalField{Name: name, Column: column}, nil
}

// Config configures versioning of one table.
type Config struct {
	// VersionTable stores the version rows.
	VersionTable string
	// VersionField is an optional column on the versioned table mirroring
	// the latest version number.
	VersionField string
	// Fields limits the snapshotted columns. Nil means every column.
	Fields []string
	// ForeignKey lists the version table columns referencing the primary
	// key, in primary key order.
	ForeignKey []string
	// ReferenceName is stored in the model column. Defaults to the
	// camelised table alias.
	ReferenceName string
	// AdditionalVersionFields are copied from the version rows onto each
	// version. Nil means the created column; an empty slice disables them.
	AdditionalVersionFields []AdditionalField
	// OnlyDirty snapshots only the columns changed since load.
	OnlyDirty bool
}

func (c Config) withDefaults(alias string) Config {
	if c.VersionTable == "" {
		c.VersionTable = DefaultVersionTable
	}
	if c.VersionField == "" {
		c.VersionField = DefaultVersionField
	}
	if len(c.ForeignKey) == 0 {
		c.ForeignKey = []string{DefaultForeignKey}
	}
	if c.ReferenceName == "" {
		c.ReferenceName = Camelize(alias)
	}
	if c.AdditionalVersionFields == nil {
		c.AdditionalVersionFields = []AdditionalField{{Name: "version_created", Column: "created"}}
	}
	return c
}

// Camelize turns under_scored or space separated words into CamelCase.
func Camelize(s string) string {
	var b strings.Builder
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == ' ' || r == '-' }) {
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}
