package versioning

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/spf13/cast"

	"github.com/rpattn/fieldver/internal/domain"
	"github.com/rpattn/fieldver/internal/repository"
)

// FindOptions narrows the version rows fetched by FindVersions.
type FindOptions struct {
	// PrimaryKey restricts rows to these foreign key tuples.
	PrimaryKey [][]any
	// VersionIDs restricts rows to these version numbers.
	VersionIDs []int64
}

// FindVersions extends q so every fetched entity carries its versions. The
// grouping formatter runs before any formatter already on the query.
func (b *Behavior) FindVersions(q *repository.Query, opts FindOptions) *repository.Query {
	property := b.PropertyName("")
	return q.
		Contain(b.AssociationName(""), func(ctx context.Context, parents []*domain.Entity) error {
			rows, err := b.fetchRows(ctx, parents, opts, b.fields)
			if err != nil {
				return err
			}
			for _, parent := range parents {
				parent.SetAssociated(property, domain.Association{
					Table:      b.config.VersionTable,
					ForeignKey: b.config.ForeignKey,
					Rows:       rows[tupleKey(b.table.PrimaryKeyValues(parent))],
					ReadOnly:   true,
				})
			}
			return nil
		}).
		FormatResults(b.GroupVersions, repository.Prepend)
}

// finder adapts FindVersions to the named finder registry. It accepts the
// options "primaryKey" (a key value, a tuple, or a list of tuples) and
// "versionId" (a number or a list of numbers).
func (b *Behavior) finder(q *repository.Query, options map[string]any) (*repository.Query, error) {
	var opts FindOptions
	if raw, ok := options["primaryKey"]; ok && raw != nil {
		tuples, err := parseKeyTuples(raw, len(b.config.ForeignKey))
		if err != nil {
			return nil, err
		}
		for _, tuple := range tuples {
			key, err := b.table.ParseKey(tuple)
			if err != nil {
				return nil, err
			}
			opts.PrimaryKey = append(opts.PrimaryKey, key)
		}
	}
	if raw, ok := options["versionId"]; ok && raw != nil {
		ids, err := parseVersionIDs(raw)
		if err != nil {
			return nil, err
		}
		opts.VersionIDs = ids
	}
	return b.FindVersions(q, opts), nil
}

// fetchRows loads the version rows of parents, bucketed by key tuple and
// ordered by version number.
func (b *Behavior) fetchRows(ctx context.Context, parents []*domain.Entity, opts FindOptions, fields []string) (map[string][]map[string]any, error) {
	tuples := make([][]any, 0, len(parents))
	for _, parent := range parents {
		key := b.table.PrimaryKeyValues(parent)
		if !hasNil(key) {
			tuples = append(tuples, key)
		}
	}
	out := map[string][]map[string]any{}
	if len(tuples) == 0 {
		return out, nil
	}

	q := b.versions.Find().
		Where(sq.Eq{"model": b.config.ReferenceName}).
		Where(sq.Eq{"field": fields}).
		Where(repository.KeyIn(b.config.ForeignKey, tuples))
	if len(opts.PrimaryKey) > 0 {
		q.Where(repository.KeyIn(b.config.ForeignKey, opts.PrimaryKey))
	}
	if len(opts.VersionIDs) > 0 {
		q.Where(sq.Eq{"version_id": opts.VersionIDs})
	}
	q.OrderBy("version_id ASC", "id ASC")

	rows, err := q.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch versions of %s: %w", b.config.ReferenceName, err)
	}
	rowsRead.WithLabelValues(b.config.ReferenceName).Add(float64(len(rows)))

	for _, row := range rows {
		values := row.ToMap()
		key := make([]any, len(b.config.ForeignKey))
		for i, column := range b.config.ForeignKey {
			key[i] = values[column]
		}
		k := tupleKey(key)
		out[k] = append(out[k], values)
	}
	return out, nil
}

func tupleKey(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = cast.ToString(v)
	}
	return strings.Join(parts, "\x00")
}

func parseKeyTuples(raw any, width int) ([][]any, error) {
	switch v := raw.(type) {
	case [][]any:
		for _, tuple := range v {
			if len(tuple) != width {
				return nil, fmt.Errorf("primary key tuple %v must have %d values", tuple, width)
			}
		}
		return v, nil
	case []any:
		if len(v) > 0 {
			if _, nested := v[0].([]any); nested {
				tuples := make([][]any, len(v))
				for i, item := range v {
					tuple, ok := item.([]any)
					if !ok || len(tuple) != width {
						return nil, fmt.Errorf("primary key tuple %v must have %d values", item, width)
					}
					tuples[i] = tuple
				}
				return tuples, nil
			}
		}
		if len(v) != width {
			return nil, fmt.Errorf("primary key %v must have %d values", v, width)
		}
		return [][]any{v}, nil
	default:
		if width != 1 {
			return nil, fmt.Errorf("primary key %v must have %d values", v, width)
		}
		return [][]any{{v}}, nil
	}
}

func parseVersionIDs(raw any) ([]int64, error) {
	switch v := raw.(type) {
	case []int64:
		return v, nil
	case []int:
		ids := make([]int64, len(v))
		for i, id := range v {
			ids[i] = int64(id)
		}
		return ids, nil
	case []any:
		ids := make([]int64, len(v))
		for i, item := range v {
			id, err := cast.ToInt64E(item)
			if err != nil {
				return nil, fmt.Errorf("invalid version id %v: %w", item, err)
			}
			ids[i] = id
		}
		return ids, nil
	default:
		id, err := cast.ToInt64E(v)
		if err != nil {
			return nil, fmt.Errorf("invalid version id %v: %w", v, err)
		}
		return []int64{id}, nil
	}
}
