package repository

import (
	"context"
	"errors"

	"github.com/rpattn/fieldver/internal/domain"
)

var (
	// ErrRecordNotFound is returned by First and Get when no row matches.
	ErrRecordNotFound = errors.New("record not found")
	// ErrUnknownFinder is returned by FindBy for unregistered finder names.
	ErrUnknownFinder = errors.New("unknown finder")
)

// SaveOptions are handed to save hooks.
type SaveOptions struct {
	// VersionID overrides the allocated version number when non-zero.
	VersionID int64
	// Meta carries caller data for hooks and event listeners.
	Meta map[string]any
}

// SaveHook runs around Table.Save. BeforeSave runs before the transaction
// opens and may bind associations to the entity. AfterSave runs after commit.
type SaveHook interface {
	BeforeSave(ctx context.Context, entity *domain.Entity, opts *SaveOptions) error
	AfterSave(ctx context.Context, entity *domain.Entity, opts *SaveOptions) error
}

// FinderFunc customises a query. Finders are registered by name on a Table.
type FinderFunc func(q *Query, options map[string]any) (*Query, error)

// ContainFunc eagerly loads data for the entities returned by a query.
type ContainFunc func(ctx context.Context, parents []*domain.Entity) error

// Formatter transforms query results after containments are loaded.
type Formatter func(ctx context.Context, entities []*domain.Entity) ([]*domain.Entity, error)

// FormatMode decides where FormatResults inserts a formatter.
type FormatMode int

const (
	// Append runs the formatter after those already registered.
	Append FormatMode = iota
	// Prepend runs the formatter before those already registered.
	Prepend
)
