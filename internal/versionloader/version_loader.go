// Package versionloader batches version lookups of many entities into one
// query per table.
package versionloader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/graph-gophers/dataloader"
	"github.com/spf13/cast"

	"github.com/rpattn/fieldver/internal/domain"
)

// BatchSource fetches the versions of several entities at once. Results
// follow the order of entities.
type BatchSource interface {
	GetVersionsBatch(ctx context.Context, entities []*domain.Entity) ([]*domain.VersionSet, error)
	PrimaryKeyValues(e *domain.Entity) []any
}

// VersionLoader collects LoadVersions calls made within a short window and
// resolves them with a single batch. Results are not cached; entities keep
// their own version cache.
type VersionLoader struct {
	Loader *dataloader.Loader
	source BatchSource
}

type entityKey struct {
	key    string
	entity *domain.Entity
}

func (k entityKey) String() string   { return k.key }
func (k entityKey) Raw() interface{} { return k.entity }

// NewVersionLoader creates a batching loader over source. Options are
// applied after the defaults.
func NewVersionLoader(source BatchSource, opts ...dataloader.Option) *VersionLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		entities := make([]*domain.Entity, len(keys))
		for i, k := range keys {
			e, ok := k.Raw().(*domain.Entity)
			if !ok {
				return []*dataloader.Result{{Error: fmt.Errorf("invalid key %q", k.String())}}
			}
			entities[i] = e
		}

		// Fetch versions in batch
		sets, err := source.GetVersionsBatch(ctx, entities)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		// Build results in the same order as keys
		results := make([]*dataloader.Result, len(keys))
		for i := range keys {
			results[i] = &dataloader.Result{Data: sets[i]}
		}
		return results
	}

	options := append([]dataloader.Option{
		dataloader.WithWait(5 * time.Millisecond),
		dataloader.WithCache(&dataloader.NoCache{}),
	}, opts...)
	loader := dataloader.NewBatchedLoader(batchFn, options...)

	return &VersionLoader{Loader: loader, source: source}
}

// LoadVersions implements domain.VersionLoader.
func (l *VersionLoader) LoadVersions(ctx context.Context, e *domain.Entity) (*domain.VersionSet, error) {
	values := l.source.PrimaryKeyValues(e)
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = cast.ToString(v)
	}
	key := entityKey{key: e.Source() + ":" + strings.Join(parts, ","), entity: e}

	result, err := l.Loader.Load(ctx, key)()
	if err != nil {
		return nil, err
	}
	set, _ := result.(*domain.VersionSet)
	return set, nil
}
