package graphql

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rpattn/fieldver/internal/codec"
	"github.com/rpattn/fieldver/internal/repository"
)

// Mutation resolvers

// PatchRecord applies column values to a record and saves it, which writes
// a new version
func (r *Resolver) PatchRecord(ctx context.Context, table string, pk any, values map[string]any) (*patchResult, error) {
	b, err := r.behavior(table)
	if err != nil {
		return nil, err
	}
	t := b.Table()
	key, err := parseKey(t, pk)
	if err != nil {
		return nil, err
	}
	for column := range values {
		if !t.Schema().HasColumn(column) {
			return nil, fmt.Errorf("unknown column %q", column)
		}
		if t.Schema().IsPrimaryKey(column) {
			return nil, fmt.Errorf("primary key column %q cannot be patched", column)
		}
	}

	e, err := t.Get(ctx, key...)
	if errors.Is(err, repository.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s record %v not found", table, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s record: %w", table, err)
	}

	native, err := t.Codec().Convert(codec.NormalizeNumbers(values), t.Schema(), codec.ToNative)
	if err != nil {
		return nil, err
	}
	e.Patch(native)

	if err := t.Save(ctx, e, &repository.SaveOptions{}); err != nil {
		return nil, fmt.Errorf("failed to save %s record: %w", table, err)
	}
	versionID, err := b.GetVersionID(ctx, e)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"table":      table,
		"key":        key,
		"version_id": versionID,
	}).Info("record patched")

	return &patchResult{record: e.ToMap(), versionID: versionID}, nil
}
