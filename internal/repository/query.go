package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/fieldver/internal/domain"
)

type containment struct {
	name string
	fn   ContainFunc
}

// Query is a select over a Table that hydrates entities, runs eager
// containments and then result formatters.
type Query struct {
	table      *Table
	builder    sq.SelectBuilder
	contains   []containment
	formatters []Formatter
}

// Table returns the table the query reads from.
func (q *Query) Table() *Table {
	return q.table
}

// Where adds a predicate. See squirrel.SelectBuilder.Where.
func (q *Query) Where(pred any, args ...any) *Query {
	q.builder = q.builder.Where(pred, args...)
	return q
}

// OrderBy adds ordering clauses.
func (q *Query) OrderBy(clauses ...string) *Query {
	q.builder = q.builder.OrderBy(clauses...)
	return q
}

// Limit caps the number of rows.
func (q *Query) Limit(limit uint64) *Query {
	q.builder = q.builder.Limit(limit)
	return q
}

// Offset skips rows.
func (q *Query) Offset(offset uint64) *Query {
	q.builder = q.builder.Offset(offset)
	return q
}

// Contain registers an eager loader run once for all fetched entities.
// Registering the same name again replaces the loader.
func (q *Query) Contain(name string, fn ContainFunc) *Query {
	for i, c := range q.contains {
		if c.name == name {
			q.contains[i].fn = fn
			return q
		}
	}
	q.contains = append(q.contains, containment{name: name, fn: fn})
	return q
}

// Contains returns the registered containment names in order.
func (q *Query) Contains() []string {
	names := make([]string, len(q.contains))
	for i, c := range q.contains {
		names[i] = c.name
	}
	return names
}

// FormatResults registers a result formatter.
func (q *Query) FormatResults(f Formatter, mode FormatMode) *Query {
	if mode == Prepend {
		q.formatters = append([]Formatter{f}, q.formatters...)
		return q
	}
	q.formatters = append(q.formatters, f)
	return q
}

// ToSql renders the select statement.
func (q *Query) ToSql() (string, []any, error) {
	return q.builder.ToSql()
}

// All executes the query.
func (q *Query) All(ctx context.Context) ([]*domain.Entity, error) {
	return q.run(ctx, q.builder)
}

// First executes the query limited to one row.
func (q *Query) First(ctx context.Context) (*domain.Entity, error) {
	entities, err := q.run(ctx, q.builder.Limit(1))
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, ErrRecordNotFound
	}
	return entities[0], nil
}

func (q *Query) run(ctx context.Context, builder sq.SelectBuilder) ([]*domain.Entity, error) {
	t := q.table
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query on %s: %w", t.schema.Name, err)
	}

	rows, err := t.conn.DB.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.schema.Name, err)
	}

	loader := t.VersionLoader()
	entities := []*domain.Entity{}
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan %s row: %w", t.schema.Name, err)
		}
		if err := hydrateRow(t.registry, t.schema, row); err != nil {
			_ = rows.Close()
			return nil, err
		}
		e := domain.HydrateEntity(t.alias, row)
		if loader != nil {
			e.Bind(loader)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to iterate %s rows: %w", t.schema.Name, err)
	}
	// release the connection before containments query again
	_ = rows.Close()

	logrus.WithFields(logrus.Fields{"table": t.schema.Name, "rows": len(entities)}).Debug("query executed")

	if len(entities) > 0 {
		for _, c := range q.contains {
			if err := c.fn(ctx, entities); err != nil {
				return nil, fmt.Errorf("failed to load %s for %s: %w", c.name, t.schema.Name, err)
			}
		}
	}
	for _, f := range q.formatters {
		entities, err = f(ctx, entities)
		if err != nil {
			return nil, err
		}
	}
	return entities, nil
}
