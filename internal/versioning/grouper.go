package versioning

import (
	"context"
	"fmt"

	"github.com/rpattn/fieldver/internal/codec"
	"github.com/rpattn/fieldver/internal/domain"
)

// GroupVersions turns the version rows bound to each entity into its
// version collection. The raw rows are removed and the entity is left clean.
func (b *Behavior) GroupVersions(ctx context.Context, entities []*domain.Entity) ([]*domain.Entity, error) {
	property := b.PropertyName("")
	for _, e := range entities {
		assoc, _ := e.Associated(property)
		versions, err := b.Group(assoc.Rows)
		if err != nil {
			return nil, err
		}
		e.SetVersions(versions)
		e.UnsetAssociated(property)
		e.Clean()
	}
	return entities, nil
}

type versionGroup struct {
	id     int64
	fields map[string]any
	first  map[string]any
}

// Group builds one Version per version number found in rows, in the order
// the numbers first appear. Field contents are converted back to the
// native type of their column. Additional fields are read from the first
// row of each group and are nil when the column is absent.
func (b *Behavior) Group(rows []map[string]any) (*domain.VersionSet, error) {
	var order []*versionGroup
	groups := map[int64]*versionGroup{}

	for _, columns := range rows {
		row := domain.VersionRowFromColumns(columns, b.config.ForeignKey)
		g, ok := groups[row.VersionID]
		if !ok {
			g = &versionGroup{id: row.VersionID, fields: map[string]any{}, first: columns}
			groups[row.VersionID] = g
			order = append(order, g)
		}
		value, err := b.table.Codec().Value(b.table.Schema().ColumnType(row.Field), row.Content, codec.ToNative)
		if err != nil {
			return nil, fmt.Errorf("failed to read version %d of field %s: %w", row.VersionID, row.Field, err)
		}
		g.fields[row.Field] = value
	}

	set := domain.NewVersionSet()
	for _, g := range order {
		meta := make(map[string]any, len(b.config.AdditionalVersionFields))
		for _, additional := range b.config.AdditionalVersionFields {
			meta[additional.Name] = g.first[additional.Column]
		}
		set.Add(domain.NewVersion(g.id, b.config.VersionField, g.fields, meta))
	}
	return set, nil
}
