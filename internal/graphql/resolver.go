// Package graphql serves versioned records and their history over GraphQL.
package graphql

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cast"

	"github.com/rpattn/fieldver/internal/domain"
	"github.com/rpattn/fieldver/internal/middleware"
	"github.com/rpattn/fieldver/internal/repository"
	"github.com/rpattn/fieldver/internal/versioning"
)

const (
	defaultRecordLimit = 100
	maxRecordLimit     = 1000
)

// Resolver handles GraphQL queries and mutations
type Resolver struct {
	tables map[string]*versioning.Behavior
}

// NewResolver creates a resolver over the tables the behaviors are
// attached to.
func NewResolver(behaviors ...*versioning.Behavior) *Resolver {
	tables := make(map[string]*versioning.Behavior, len(behaviors))
	for _, b := range behaviors {
		tables[b.Table().Name()] = b
	}
	return &Resolver{tables: tables}
}

// record is the value behind the Record type.
type record struct {
	table  *repository.Table
	entity *domain.Entity
}

// patchResult is the value behind the PatchRecordResult type.
type patchResult struct {
	record    map[string]any
	versionID int64
}

func (r *Resolver) fields() map[string]map[string]fieldFunc {
	return map[string]map[string]fieldFunc{
		"Query": {
			"tables": func(ctx context.Context, _ any, _ map[string]any) (any, error) {
				return r.Tables(ctx)
			},
			"versions": func(ctx context.Context, _ any, args map[string]any) (any, error) {
				return r.Versions(ctx, cast.ToString(args["table"]), args["pk"])
			},
			"version": func(ctx context.Context, _ any, args map[string]any) (any, error) {
				id, err := cast.ToInt64E(args["id"])
				if err != nil {
					return nil, fmt.Errorf("invalid version id: %w", err)
				}
				return r.Version(ctx, cast.ToString(args["table"]), args["pk"], id)
			},
			"versionDiff": func(ctx context.Context, _ any, args map[string]any) (any, error) {
				id, err := cast.ToInt64E(args["id"])
				if err != nil {
					return nil, fmt.Errorf("invalid version id: %w", err)
				}
				var against *int64
				if raw, ok := args["against"]; ok && raw != nil {
					n, err := cast.ToInt64E(raw)
					if err != nil {
						return nil, fmt.Errorf("invalid against version: %w", err)
					}
					against = &n
				}
				return r.VersionDiff(ctx, cast.ToString(args["table"]), args["pk"], id, against)
			},
			"records": func(ctx context.Context, _ any, args map[string]any) (any, error) {
				var limit *int
				if raw, ok := args["limit"]; ok && raw != nil {
					n, err := cast.ToIntE(raw)
					if err != nil {
						return nil, fmt.Errorf("invalid limit: %w", err)
					}
					limit = &n
				}
				return r.Records(ctx, cast.ToString(args["table"]), args["ids"], limit)
			},
		},
		"Mutation": {
			"patchRecord": func(ctx context.Context, _ any, args map[string]any) (any, error) {
				values, ok := args["values"].(map[string]any)
				if !ok {
					return nil, fmt.Errorf("values must be an object")
				}
				return r.PatchRecord(ctx, cast.ToString(args["table"]), args["pk"], values)
			},
		},
		"Version": {
			"id": func(_ context.Context, obj any, _ map[string]any) (any, error) {
				return obj.(*domain.Version).ID(), nil
			},
			"fields": func(_ context.Context, obj any, _ map[string]any) (any, error) {
				return obj.(*domain.Version).Fields(), nil
			},
			"meta": func(_ context.Context, obj any, _ map[string]any) (any, error) {
				return obj.(*domain.Version).Meta(), nil
			},
		},
		"Record": {
			"key": func(_ context.Context, obj any, _ map[string]any) (any, error) {
				rec := obj.(*record)
				key := rec.table.PrimaryKeyValues(rec.entity)
				out := make([]string, len(key))
				for i, v := range key {
					out[i] = cast.ToString(v)
				}
				return out, nil
			},
			"data": func(_ context.Context, obj any, _ map[string]any) (any, error) {
				return obj.(*record).entity.ToMap(), nil
			},
			"versions": func(ctx context.Context, obj any, _ map[string]any) (any, error) {
				versions, err := obj.(*record).entity.Versions(ctx, false)
				if err != nil {
					return nil, err
				}
				return versions.All(), nil
			},
		},
		"PatchRecordResult": {
			"record": func(_ context.Context, obj any, _ map[string]any) (any, error) {
				return obj.(*patchResult).record, nil
			},
			"versionId": func(_ context.Context, obj any, _ map[string]any) (any, error) {
				return obj.(*patchResult).versionID, nil
			},
		},
	}
}

// Query resolvers

// Tables returns the names of the versioned tables
func (r *Resolver) Tables(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Versions returns every version of a record in version order
func (r *Resolver) Versions(ctx context.Context, table string, pk any) ([]*domain.Version, error) {
	b, err := r.behavior(table)
	if err != nil {
		return nil, err
	}
	e, err := findWithVersions(ctx, b, pk, map[string]any{})
	if err != nil {
		return nil, err
	}
	versions, err := e.Versions(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load versions: %w", err)
	}
	return versions.All(), nil
}

// Version returns a single version of a record, or nil when it does not exist
func (r *Resolver) Version(ctx context.Context, table string, pk any, id int64) (*domain.Version, error) {
	b, err := r.behavior(table)
	if err != nil {
		return nil, err
	}
	e, err := findWithVersions(ctx, b, pk, map[string]any{"versionId": id})
	if err != nil {
		return nil, err
	}
	return e.Version(ctx, id, false)
}

// VersionDiff renders a unified diff of version id against the version
// against, or against the version before it
func (r *Resolver) VersionDiff(ctx context.Context, table string, pk any, id int64, against *int64) (string, error) {
	b, err := r.behavior(table)
	if err != nil {
		return "", err
	}
	e, err := findWithVersions(ctx, b, pk, map[string]any{})
	if err != nil {
		return "", err
	}
	versions, err := e.Versions(ctx, false)
	if err != nil {
		return "", fmt.Errorf("failed to load versions: %w", err)
	}

	target := versions.Get(id)
	if target == nil {
		return "", fmt.Errorf("version %d not found", id)
	}
	var base *domain.Version
	if against != nil {
		if base = versions.Get(*against); base == nil {
			return "", fmt.Errorf("version %d not found", *against)
		}
	} else {
		base = previousVersion(versions, id)
	}

	baseLabel := "(none)"
	if base != nil {
		baseLabel = fmt.Sprintf("version %d", base.ID())
	}
	return domain.DiffVersions(baseLabel, base, fmt.Sprintf("version %d", id), target)
}

// Records returns records selected by key tuples, or the first limit
// records by key. Their versions are loaded through the request's batching
// loader when one is attached to the context.
func (r *Resolver) Records(ctx context.Context, table string, ids any, limit *int) ([]*record, error) {
	b, err := r.behavior(table)
	if err != nil {
		return nil, err
	}
	t := b.Table()
	q := t.Find().OrderBy(t.PrimaryKey()...)

	keys, err := parseKeyList(t, ids)
	if err != nil {
		return nil, err
	}
	switch {
	case len(keys) > 0:
		q.Where(repository.KeyIn(t.PrimaryKey(), keys))
	case limit != nil && *limit <= 0:
		return nil, fmt.Errorf("invalid limit %d", *limit)
	case limit != nil:
		q.Limit(uint64(min(*limit, maxRecordLimit)))
	default:
		q.Limit(defaultRecordLimit)
	}

	entities, err := q.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}

	loader := middleware.VersionLoaderFromContext(ctx, t.Name())
	out := make([]*record, len(entities))
	for i, e := range entities {
		if loader != nil {
			e.Bind(loader)
		}
		out[i] = &record{table: t, entity: e}
	}
	return out, nil
}

func (r *Resolver) behavior(table string) (*versioning.Behavior, error) {
	b, ok := r.tables[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	return b, nil
}

// findWithVersions fetches one record with its versions already grouped.
func findWithVersions(ctx context.Context, b *versioning.Behavior, pk any, options map[string]any) (*domain.Entity, error) {
	table := b.Table()
	key, err := parseKey(table, pk)
	if err != nil {
		return nil, err
	}
	options["primaryKey"] = key

	q, err := table.FindBy(versioning.FinderName, options)
	if err != nil {
		return nil, err
	}
	e, err := q.Where(repository.KeyIn(table.PrimaryKey(), [][]any{key})).First(ctx)
	if errors.Is(err, repository.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s record %v not found", table.Name(), key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s record: %w", table.Name(), err)
	}
	return e, nil
}

func previousVersion(versions *domain.VersionSet, versionID int64) *domain.Version {
	var previous *domain.Version
	for _, v := range versions.All() {
		if v.ID() == versionID {
			return previous
		}
		previous = v
	}
	return nil
}
