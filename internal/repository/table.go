package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/fieldver/internal/codec"
	"github.com/rpattn/fieldver/internal/db"
	"github.com/rpattn/fieldver/internal/domain"
	"github.com/rpattn/fieldver/internal/schema"
)

// Table gives access to the rows of one database table as entities.
type Table struct {
	conn     *db.Connection
	builder  sq.StatementBuilderType
	provider schema.Provider
	schema   schema.Table
	alias    string
	registry *codec.Registry

	mu      sync.RWMutex
	hooks   []SaveHook
	finders map[string]FinderFunc
	loader  domain.VersionLoader
	related map[string]schema.Table
}

// TableOption configures a Table.
type TableOption func(*Table)

// WithAlias sets the logical name of the table. It defaults to the table name.
func WithAlias(alias string) TableOption {
	return func(t *Table) { t.alias = alias }
}

// WithSchema skips introspection and uses the given description.
func WithSchema(s schema.Table) TableOption {
	return func(t *Table) { t.schema = s }
}

// WithCodec replaces the default codec registry.
func WithCodec(registry *codec.Registry) TableOption {
	return func(t *Table) { t.registry = registry }
}

// NewTable creates a table bound to conn. The table is described through
// provider unless WithSchema is given.
func NewTable(ctx context.Context, conn *db.Connection, provider schema.Provider, name string, opts ...TableOption) (*Table, error) {
	t := &Table{
		conn:     conn,
		builder:  conn.Dialect.Builder(),
		provider: provider,
		alias:    name,
		registry: codec.Default(),
		finders:  map[string]FinderFunc{},
		related:  map[string]schema.Table{},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.schema.Name == "" {
		described, err := provider.Describe(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to describe table %s: %w", name, err)
		}
		t.schema = described
	}
	if err := t.schema.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Name returns the table name.
func (t *Table) Name() string { return t.schema.Name }

// Alias returns the logical table name.
func (t *Table) Alias() string { return t.alias }

// Schema returns the table description.
func (t *Table) Schema() schema.Table { return t.schema }

// Conn returns the underlying connection.
func (t *Table) Conn() *db.Connection { return t.conn }

// Builder returns a statement builder for the connection dialect.
func (t *Table) Builder() sq.StatementBuilderType { return t.builder }

// Codec returns the codec registry used for column conversion.
func (t *Table) Codec() *codec.Registry { return t.registry }

// Provider returns the schema provider of the table.
func (t *Table) Provider() schema.Provider { return t.provider }

// PrimaryKey returns the primary key columns in key order.
func (t *Table) PrimaryKey() []string {
	return append([]string(nil), t.schema.PrimaryKey...)
}

// AddHook registers a save hook. Hooks run in registration order.
func (t *Table) AddHook(hook SaveHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, hook)
}

// RegisterFinder registers a named finder.
func (t *Table) RegisterFinder(name string, finder FinderFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finders[name] = finder
}

// Finders returns the registered finder names in lexical order.
func (t *Table) Finders() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.finders))
	for name := range t.finders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetVersionLoader sets the loader bound to every entity read or created
// through the table.
func (t *Table) SetVersionLoader(loader domain.VersionLoader) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loader = loader
}

// VersionLoader returns the loader bound to entities of the table.
func (t *Table) VersionLoader() domain.VersionLoader {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loader
}

// NewEntity creates an unpersisted entity of the table.
func (t *Table) NewEntity(properties map[string]any) *domain.Entity {
	e := domain.NewEntity(t.alias, properties)
	if loader := t.VersionLoader(); loader != nil {
		e.Bind(loader)
	}
	return e
}

// PrimaryKeyValues returns the entity's primary key tuple in key order.
// Unset components are nil.
func (t *Table) PrimaryKeyValues(e *domain.Entity) []any {
	values := make([]any, len(t.schema.PrimaryKey))
	for i, column := range t.schema.PrimaryKey {
		values[i] = e.Get(column)
	}
	return values
}

// ParseKey converts raw primary key components, such as path segments, to
// the native types of the key columns.
func (t *Table) ParseKey(raw []any) ([]any, error) {
	if len(raw) != len(t.schema.PrimaryKey) {
		return nil, fmt.Errorf("table %s expects %d primary key values, got %d", t.schema.Name, len(t.schema.PrimaryKey), len(raw))
	}
	key := make([]any, len(raw))
	for i, column := range t.schema.PrimaryKey {
		value, err := t.registry.Value(t.schema.ColumnType(column), raw[i], codec.ToNative)
		if err != nil {
			return nil, fmt.Errorf("failed to parse primary key %s: %w", column, err)
		}
		key[i] = value
	}
	return key, nil
}

// Find starts a query over every column of the table.
func (t *Table) Find() *Query {
	return &Query{
		table:   t,
		builder: t.builder.Select(t.schema.ColumnNames()...).From(t.schema.Name),
	}
}

// FindBy starts a query customised by the named finder.
func (t *Table) FindBy(name string, options map[string]any) (*Query, error) {
	t.mu.RLock()
	finder, ok := t.finders[name]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFinder, name)
	}
	return finder(t.Find(), options)
}

// Get fetches a single entity by primary key.
func (t *Table) Get(ctx context.Context, key ...any) (*domain.Entity, error) {
	native, err := t.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return t.Find().Where(t.keyCondition(native)).First(ctx)
}

func (t *Table) keyCondition(key []any) sq.Eq {
	cond := sq.Eq{}
	for i, column := range t.schema.PrimaryKey {
		cond[column] = key[i]
	}
	return cond
}

// relatedSchema describes an associated table, caching the result.
func (t *Table) relatedSchema(ctx context.Context, name string) (schema.Table, error) {
	t.mu.RLock()
	s, ok := t.related[name]
	t.mu.RUnlock()
	if ok {
		return s, nil
	}
	s, err := t.provider.Describe(ctx, name)
	if err != nil {
		return schema.Table{}, fmt.Errorf("failed to describe associated table %s: %w", name, err)
	}
	t.mu.Lock()
	t.related[name] = s
	t.mu.Unlock()
	logrus.WithFields(logrus.Fields{"table": t.schema.Name, "associated": name}).Debug("described associated table")
	return s, nil
}
