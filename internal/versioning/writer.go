package versioning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/fieldver/internal/codec"
	"github.com/rpattn/fieldver/internal/domain"
	"github.com/rpattn/fieldver/internal/events"
	"github.com/rpattn/fieldver/internal/repository"
)

// GetVersionID returns the last committed version number of the entity, or
// 0 when it has none. Entities without a complete key have no versions and
// are not looked up.
func (b *Behavior) GetVersionID(ctx context.Context, e *domain.Entity) (int64, error) {
	key := b.table.PrimaryKeyValues(e)
	if hasNil(key) {
		return 0, nil
	}

	cond := sq.Eq{"model": b.config.ReferenceName}
	for column, value := range b.foreignKeyValues(key) {
		cond[column] = value
	}
	query, args, err := b.versions.Builder().
		Select("version_id").
		From(b.config.VersionTable).
		Where(cond).
		OrderBy("version_id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build version id query: %w", err)
	}

	var versionID sql.NullInt64
	err = b.table.Conn().DB.GetContext(ctx, &versionID, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get version id: %w", err)
	}
	return versionID.Int64, nil
}

// BeforeSave builds the version rows of this save and binds them to the
// entity. Nothing is written here; the table saves the rows together with
// the entity.
func (b *Behavior) BeforeSave(ctx context.Context, e *domain.Entity, opts *repository.SaveOptions) error {
	fields := b.snapshotFields()
	values := e.Extract(fields, b.config.OnlyDirty)

	versionID := opts.VersionID
	if versionID == 0 {
		last, err := b.GetVersionID(ctx, e)
		if err != nil {
			return err
		}
		versionID = last + 1
	}

	stored, err := b.table.Codec().Convert(values, b.table.Schema(), codec.ToStorage)
	if err != nil {
		return err
	}

	key := b.table.PrimaryKeyValues(e)
	if hasNil(key) {
		// filled from the generated key on insert
		key = make([]any, len(key))
	}
	created := b.now().UTC()

	rows := make([]map[string]any, 0, len(stored))
	for _, field := range fields {
		content, ok := stored[field]
		if !ok {
			continue
		}
		row := domain.VersionRow{
			VersionID:  versionID,
			Model:      b.config.ReferenceName,
			ForeignKey: key,
			Field:      field,
			Content:    content,
			Created:    created,
		}.Columns(b.config.ForeignKey)

		extra, err := b.events.Dispatch(ctx, events.Event{
			Name:    events.VersionBeforeSave,
			Subject: b,
			Data: map[string]any{
				"entity":  e,
				"field":   field,
				"options": opts,
			},
		})
		if err != nil {
			return err
		}
		for column, value := range extra {
			row[column] = value
		}
		rows = append(rows, row)
	}

	e.SetAssociated(b.PropertyName(""), domain.Association{
		Table:      b.config.VersionTable,
		ForeignKey: b.config.ForeignKey,
		Rows:       rows,
	})

	if b.config.VersionField != "" && b.table.Schema().HasColumn(b.config.VersionField) {
		e.Set(b.config.VersionField, versionID)
	}

	logrus.WithFields(logrus.Fields{
		"model":      b.config.ReferenceName,
		"version_id": versionID,
		"fields":     len(rows),
	}).Debug("prepared version rows")
	return nil
}

// AfterSave drops the transient version rows from the entity.
func (b *Behavior) AfterSave(ctx context.Context, e *domain.Entity, opts *repository.SaveOptions) error {
	property := b.PropertyName("")
	if assoc, ok := e.Associated(property); ok && len(assoc.Rows) > 0 {
		versionsWritten.WithLabelValues(b.config.ReferenceName).Inc()
		rowsWritten.WithLabelValues(b.config.ReferenceName).Add(float64(len(assoc.Rows)))
	}
	e.UnsetAssociated(property)
	return nil
}
