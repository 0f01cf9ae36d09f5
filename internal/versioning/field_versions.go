package versioning

import (
	"context"
	"fmt"

	"github.com/rpattn/fieldver/internal/domain"
	"github.com/rpattn/fieldver/internal/repository"
)

// ContainFieldVersions binds the latest version row of each field to the
// fetched entities under "<field>_version". Fields that are not versioned
// are rejected.
func (b *Behavior) ContainFieldVersions(q *repository.Query, fields ...string) (*repository.Query, error) {
	versioned := make(map[string]bool, len(b.fields))
	for _, f := range b.fields {
		versioned[f] = true
	}
	for _, field := range fields {
		if !versioned[field] {
			return nil, fmt.Errorf("field %s of %s is not versioned", field, b.config.ReferenceName)
		}
	}

	for _, field := range fields {
		q.Contain(b.AssociationName(field), func(ctx context.Context, parents []*domain.Entity) error {
			rows, err := b.fetchRows(ctx, parents, FindOptions{}, []string{field})
			if err != nil {
				return err
			}
			for _, parent := range parents {
				assoc := domain.Association{
					Table:      b.config.VersionTable,
					ForeignKey: b.config.ForeignKey,
					ReadOnly:   true,
				}
				// rows are ordered by version number
				if found := rows[tupleKey(b.table.PrimaryKeyValues(parent))]; len(found) > 0 {
					assoc.Rows = found[len(found)-1:]
				}
				parent.SetAssociated(b.PropertyName(field), assoc)
			}
			return nil
		})
	}
	return q, nil
}
