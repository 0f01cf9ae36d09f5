// Package versioning keeps a field level history of table rows. Every save
// of a versioned entity writes one row per snapshotted field into a version
// table, all tagged with the next version number of that entity. Reads
// regroup those rows into one Version per number.
package versioning

import (
	"context"
	"fmt"
	"time"

	"github.com/jinzhu/inflection"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/fieldver/internal/events"
	"github.com/rpattn/fieldver/internal/repository"
)

// FinderName is the name of the finder registered on versioned tables.
const FinderName = "versions"

// Behavior versions the rows of one table.
type Behavior struct {
	table    *repository.Table
	versions *repository.Table
	config   Config
	events   *events.Manager
	fields   []string
	now      func() time.Time
}

// Attach enables versioning on table. It registers the save hooks, the
// "versions" finder and the version loader used by entity accessors.
func Attach(ctx context.Context, table *repository.Table, config Config, manager *events.Manager) (*Behavior, error) {
	config = config.withDefaults(table.Alias())

	primaryKey := table.PrimaryKey()
	if len(primaryKey) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingPrimaryKey, table.Name())
	}
	if len(config.ForeignKey) != len(primaryKey) {
		return nil, fmt.Errorf("foreign key %v does not match primary key %v of %s", config.ForeignKey, primaryKey, table.Name())
	}

	versions, err := repository.NewTable(ctx, table.Conn(), table.Provider(), config.VersionTable,
		repository.WithCodec(table.Codec()))
	if err != nil {
		return nil, fmt.Errorf("failed to open version table: %w", err)
	}
	for _, column := range append([]string{"version_id", "model", "field", "content"}, config.ForeignKey...) {
		if !versions.Schema().HasColumn(column) {
			return nil, fmt.Errorf("version table %s has no column %s", config.VersionTable, column)
		}
	}

	b := &Behavior{
		table:    table,
		versions: versions,
		config:   config,
		events:   manager,
		now:      time.Now,
	}
	b.fields = b.resolveFields()

	table.AddHook(b)
	table.RegisterFinder(FinderName, b.finder)
	table.SetVersionLoader(b)

	logrus.WithFields(logrus.Fields{
		"table":         table.Name(),
		"version_table": config.VersionTable,
		"model":         config.ReferenceName,
		"fields":        b.fields,
	}).Info("versioning attached")

	return b, nil
}

// Config returns the effective configuration.
func (b *Behavior) Config() Config {
	c := b.config
	c.Fields = append([]string(nil), b.config.Fields...)
	c.ForeignKey = append([]string(nil), b.config.ForeignKey...)
	c.AdditionalVersionFields = append([]AdditionalField(nil), b.config.AdditionalVersionFields...)
	return c
}

// Table returns the versioned table.
func (b *Behavior) Table() *repository.Table {
	return b.table
}

// VersionTable returns the table holding the version rows.
func (b *Behavior) VersionTable() *repository.Table {
	return b.versions
}

// Fields returns the versioned columns: every schema column, or those in
// the configured whitelist, in schema order.
func (b *Behavior) Fields() []string {
	return append([]string(nil), b.fields...)
}

func (b *Behavior) resolveFields() []string {
	columns := b.table.Schema().ColumnNames()
	if b.config.Fields == nil {
		return columns
	}
	allowed := make(map[string]bool, len(b.config.Fields))
	for _, f := range b.config.Fields {
		allowed[f] = true
	}
	fields := make([]string, 0, len(columns))
	for _, column := range columns {
		if allowed[column] {
			fields = append(fields, column)
		}
	}
	return fields
}

// snapshotFields are the fields written on save. Key columns and the
// version mirror column are never snapshotted.
func (b *Behavior) snapshotFields() []string {
	out := make([]string, 0, len(b.fields))
	for _, field := range b.fields {
		if b.table.Schema().IsPrimaryKey(field) || field == b.config.VersionField {
			continue
		}
		out = append(out, field)
	}
	return out
}

// AssociationName names the association holding all version rows, or the
// rows of a single field when field is set. "articles" and "body" give
// "ArticleBodyVersion".
func (b *Behavior) AssociationName(field string) string {
	return inflection.Singular(Camelize(b.table.Alias())) + Camelize(field) + "Version"
}

// PropertyName is the entity property the association is bound to.
func (b *Behavior) PropertyName(field string) string {
	if field == "" {
		return "__version"
	}
	return field + "_version"
}

// foreignKeyValues returns the entity's key tuple in foreign key order.
func (b *Behavior) foreignKeyValues(values []any) map[string]any {
	out := make(map[string]any, len(b.config.ForeignKey))
	for i, column := range b.config.ForeignKey {
		out[column] = values[i]
	}
	return out
}

func hasNil(values []any) bool {
	for _, v := range values {
		if v == nil {
			return true
		}
	}
	return false
}
