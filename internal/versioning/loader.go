package versioning

import (
	"context"

	"github.com/rpattn/fieldver/internal/domain"
)

// GetVersions fetches every version of the entity. Entities without a
// complete key have an empty history.
func (b *Behavior) GetVersions(ctx context.Context, e *domain.Entity) (*domain.VersionSet, error) {
	sets, err := b.GetVersionsBatch(ctx, []*domain.Entity{e})
	if err != nil {
		return nil, err
	}
	return sets[0], nil
}

// GetVersionsBatch fetches the versions of several entities with a single
// query. Results follow the order of entities.
func (b *Behavior) GetVersionsBatch(ctx context.Context, entities []*domain.Entity) ([]*domain.VersionSet, error) {
	rows, err := b.fetchRows(ctx, entities, FindOptions{}, b.fields)
	if err != nil {
		return nil, err
	}
	sets := make([]*domain.VersionSet, len(entities))
	for i, e := range entities {
		key := b.table.PrimaryKeyValues(e)
		if hasNil(key) {
			sets[i] = domain.NewVersionSet()
			continue
		}
		set, err := b.Group(rows[tupleKey(key)])
		if err != nil {
			return nil, err
		}
		sets[i] = set
	}
	return sets, nil
}

// LoadVersions implements domain.VersionLoader.
func (b *Behavior) LoadVersions(ctx context.Context, e *domain.Entity) (*domain.VersionSet, error) {
	return b.GetVersions(ctx, e)
}

// PrimaryKeyValues returns the entity's key tuple.
func (b *Behavior) PrimaryKeyValues(e *domain.Entity) []any {
	return b.table.PrimaryKeyValues(e)
}
