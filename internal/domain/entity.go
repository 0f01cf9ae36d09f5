package domain

import (
	"context"
	"reflect"
	"sort"
)

// VersionLoader fetches the full version history of an entity.
type VersionLoader interface {
	LoadVersions(ctx context.Context, entity *Entity) (*VersionSet, error)
}

// Association holds rows bound to an entity that are persisted (or were
// fetched) together with it. ForeignKey lists the columns on the associated
// rows that reference the owning entity's primary key, in key order.
// ReadOnly associations were fetched and are skipped on save.
type Association struct {
	Table      string
	ForeignKey []string
	Rows       []map[string]any
	ReadOnly   bool
}

// Entity is a single record of a table with dirty tracking. Associations and
// the cached version collection are transient and never written as columns.
type Entity struct {
	source       string
	properties   map[string]any
	dirty        map[string]bool
	isNew        bool
	associations map[string]Association
	versions     *VersionSet
	loader       VersionLoader
}

// NewEntity creates an unpersisted entity. Every provided property is dirty.
func NewEntity(source string, properties map[string]any) *Entity {
	e := &Entity{
		source:     source,
		properties: copyProperties(properties),
		dirty:      make(map[string]bool, len(properties)),
		isNew:      true,
	}
	for key := range e.properties {
		e.dirty[key] = true
	}
	return e
}

// HydrateEntity creates a clean entity from a persisted row.
func HydrateEntity(source string, properties map[string]any) *Entity {
	return &Entity{
		source:     source,
		properties: copyProperties(properties),
		dirty:      map[string]bool{},
	}
}

// Source is the name of the table the entity belongs to.
func (e *Entity) Source() string {
	return e.source
}

// Get returns the property value or nil when unset.
func (e *Entity) Get(field string) any {
	return e.properties[field]
}

// Lookup reports whether the property is set, even when set to nil.
func (e *Entity) Lookup(field string) (any, bool) {
	value, ok := e.properties[field]
	return value, ok
}

// Has reports whether the property is set.
func (e *Entity) Has(field string) bool {
	_, ok := e.properties[field]
	return ok
}

// Set assigns a property. The property becomes dirty when the value changes
// or when it was not set before.
func (e *Entity) Set(field string, value any) {
	current, ok := e.properties[field]
	if !ok || !reflect.DeepEqual(current, value) {
		e.dirty[field] = true
	}
	e.properties[field] = value
}

// Patch sets every property in values.
func (e *Entity) Patch(values map[string]any) {
	for key, value := range values {
		e.Set(key, value)
	}
}

// Unset removes a property.
func (e *Entity) Unset(field string) {
	delete(e.properties, field)
	delete(e.dirty, field)
}

// Extract returns the values of the requested fields that are set on the
// entity. With onlyDirty, unchanged fields are skipped.
func (e *Entity) Extract(fields []string, onlyDirty bool) map[string]any {
	out := make(map[string]any, len(fields))
	for _, field := range fields {
		value, ok := e.properties[field]
		if !ok {
			continue
		}
		if onlyDirty && !e.dirty[field] {
			continue
		}
		out[field] = value
	}
	return out
}

// IsDirty reports whether the property changed since load or last save.
func (e *Entity) IsDirty(field string) bool {
	return e.dirty[field]
}

// DirtyFields returns the changed property names in lexical order.
func (e *Entity) DirtyFields() []string {
	fields := make([]string, 0, len(e.dirty))
	for field, dirty := range e.dirty {
		if dirty {
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)
	return fields
}

// Clean marks every property as unchanged.
func (e *Entity) Clean() {
	e.dirty = map[string]bool{}
}

// IsNew reports whether the entity has not been persisted yet.
func (e *Entity) IsNew() bool {
	return e.isNew
}

// MarkPersisted flags the entity as stored and clears dirty state.
func (e *Entity) MarkPersisted() {
	e.isNew = false
	e.Clean()
}

// ToMap returns a copy of the entity properties.
func (e *Entity) ToMap() map[string]any {
	return copyProperties(e.properties)
}

// SetAssociated binds rows to the entity under property.
func (e *Entity) SetAssociated(property string, association Association) {
	if e.associations == nil {
		e.associations = map[string]Association{}
	}
	e.associations[property] = association
}

// Associated returns the rows bound under property.
func (e *Entity) Associated(property string) (Association, bool) {
	association, ok := e.associations[property]
	return association, ok
}

// UnsetAssociated drops the rows bound under property.
func (e *Entity) UnsetAssociated(property string) {
	delete(e.associations, property)
}

// Associations returns the bound association property names in lexical order.
func (e *Entity) Associations() []string {
	names := make([]string, 0, len(e.associations))
	for name := range e.associations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bind attaches the loader used by Versions when nothing is cached.
func (e *Entity) Bind(loader VersionLoader) {
	e.loader = loader
}

// SetVersions replaces the cached version collection.
func (e *Entity) SetVersions(versions *VersionSet) {
	e.versions = versions
}

// CachedVersions returns the cached version collection, if any.
func (e *Entity) CachedVersions() (*VersionSet, bool) {
	return e.versions, e.versions != nil
}

// Versions returns the cached versions, fetching them through the bound
// loader when reset is set or nothing is cached yet. An empty result is
// cached too so it is not fetched again.
func (e *Entity) Versions(ctx context.Context, reset bool) (*VersionSet, error) {
	if !reset && e.versions != nil {
		return e.versions, nil
	}
	if e.loader == nil {
		return nil, ErrNoVersionLoader
	}
	versions, err := e.loader.LoadVersions(ctx, e)
	if err != nil {
		return nil, err
	}
	if versions == nil {
		versions = NewVersionSet()
	}
	e.versions = versions
	return e.versions, nil
}

// Version returns a single version by number, or nil when it does not exist.
func (e *Entity) Version(ctx context.Context, versionID int64, reset bool) (*Version, error) {
	versions, err := e.Versions(ctx, reset)
	if err != nil {
		return nil, err
	}
	return versions.Get(versionID), nil
}

// EntityState is a copy of the persisted state of an entity: properties,
// dirty flags, newness and bound associations.
type EntityState struct {
	properties   map[string]any
	dirty        map[string]bool
	isNew        bool
	associations map[string]Association
}

// Snapshot captures the entity state so a failed save can be undone.
func (e *Entity) Snapshot() EntityState {
	state := EntityState{
		properties: copyProperties(e.properties),
		dirty:      make(map[string]bool, len(e.dirty)),
		isNew:      e.isNew,
	}
	for k, v := range e.dirty {
		state.dirty[k] = v
	}
	if e.associations != nil {
		state.associations = make(map[string]Association, len(e.associations))
		for k, v := range e.associations {
			state.associations[k] = v
		}
	}
	return state
}

// Restore resets the entity to a snapshot. The version cache and loader are
// left alone.
func (e *Entity) Restore(state EntityState) {
	e.properties = copyProperties(state.properties)
	e.dirty = make(map[string]bool, len(state.dirty))
	for k, v := range state.dirty {
		e.dirty[k] = v
	}
	e.isNew = state.isNew
	e.associations = nil
	for k, v := range state.associations {
		e.SetAssociated(k, v)
	}
}

// copyProperties creates a shallow copy of the properties map
func copyProperties(properties map[string]any) map[string]any {
	newProperties := make(map[string]any, len(properties))
	for k, v := range properties {
		newProperties[k] = v
	}
	return newProperties
}
