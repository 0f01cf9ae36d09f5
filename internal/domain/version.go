package domain

import (
	"errors"
	"time"

	"github.com/spf13/cast"
)

// ErrNoVersionLoader is returned when versions are requested from an entity
// that was never bound to a versioned table.
var ErrNoVersionLoader = errors.New("entity has no version loader")

// VersionRow is one persisted attribute value tagged with a version number.
// ForeignKey is ordered like the configured foreign key columns and Extra
// carries supplementary columns such as created or user_id.
type VersionRow struct {
	ID         int64
	VersionID  int64
	Model      string
	ForeignKey []any
	Field      string
	Content    any
	Created    time.Time
	Extra      map[string]any
}

// Version is the read-side projection of all rows sharing a version number.
type Version struct {
	id     int64
	idKey  string
	fields map[string]any
	meta   map[string]any
}

// NewVersion builds an immutable version. idKey is the attribute name the
// version number is exposed under.
func NewVersion(id int64, idKey string, fields, meta map[string]any) *Version {
	if idKey == "" {
		idKey = "version_id"
	}
	return &Version{
		id:     id,
		idKey:  idKey,
		fields: copyProperties(fields),
		meta:   copyProperties(meta),
	}
}

// ID returns the version number.
func (v *Version) ID() int64 {
	return v.id
}

// Get returns a field value, the version number or a mapped supplementary
// attribute.
func (v *Version) Get(name string) any {
	value, _ := v.Lookup(name)
	return value
}

// Lookup is like Get but reports whether the attribute exists.
func (v *Version) Lookup(name string) (any, bool) {
	if name == v.idKey {
		return v.id, true
	}
	if value, ok := v.fields[name]; ok {
		return value, true
	}
	value, ok := v.meta[name]
	return value, ok
}

// Fields returns a copy of the versioned field values.
func (v *Version) Fields() map[string]any {
	return copyProperties(v.fields)
}

// Meta returns a copy of the mapped supplementary attributes.
func (v *Version) Meta() map[string]any {
	return copyProperties(v.meta)
}

// ToMap flattens fields, the version number and supplementary attributes.
func (v *Version) ToMap() map[string]any {
	out := make(map[string]any, len(v.fields)+len(v.meta)+1)
	for k, val := range v.fields {
		out[k] = val
	}
	out[v.idKey] = v.id
	for k, val := range v.meta {
		out[k] = val
	}
	return out
}

// VersionSet is a collection of versions keyed by number that keeps the order
// in which versions were added.
type VersionSet struct {
	ids  []int64
	byID map[int64]*Version
}

// NewVersionSet returns an empty collection.
func NewVersionSet() *VersionSet {
	return &VersionSet{byID: map[int64]*Version{}}
}

// Add appends a version, replacing one with the same number in place.
func (s *VersionSet) Add(version *Version) {
	if _, ok := s.byID[version.ID()]; !ok {
		s.ids = append(s.ids, version.ID())
	}
	s.byID[version.ID()] = version
}

// Get returns the version with the given number or nil.
func (s *VersionSet) Get(id int64) *Version {
	if s == nil {
		return nil
	}
	return s.byID[id]
}

// Len returns the number of versions.
func (s *VersionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// IDs returns version numbers in insertion order.
func (s *VersionSet) IDs() []int64 {
	if s == nil {
		return nil
	}
	return append([]int64(nil), s.ids...)
}

// All returns versions in insertion order.
func (s *VersionSet) All() []*Version {
	if s == nil {
		return nil
	}
	out := make([]*Version, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.byID[id])
	}
	return out
}

// Latest returns the last added version or nil.
func (s *VersionSet) Latest() *Version {
	if s.Len() == 0 {
		return nil
	}
	return s.byID[s.ids[len(s.ids)-1]]
}

// Columns flattens the row into column values. foreignKey names the columns
// that receive the ForeignKey tuple. The storage-assigned id is omitted while
// zero.
func (r VersionRow) Columns(foreignKey []string) map[string]any {
	out := make(map[string]any, len(r.Extra)+6+len(foreignKey))
	for k, v := range r.Extra {
		out[k] = v
	}
	if r.ID != 0 {
		out["id"] = r.ID
	}
	out["version_id"] = r.VersionID
	out["model"] = r.Model
	out["field"] = r.Field
	out["content"] = r.Content
	if !r.Created.IsZero() {
		out["created"] = r.Created
	}
	for i, column := range foreignKey {
		if i < len(r.ForeignKey) {
			out[column] = r.ForeignKey[i]
		} else {
			out[column] = nil
		}
	}
	return out
}

// VersionRowFromColumns is the inverse of Columns. Columns that are not part
// of the core row shape end up in Extra, created included.
func VersionRowFromColumns(columns map[string]any, foreignKey []string) VersionRow {
	row := VersionRow{Extra: map[string]any{}}
	fk := make(map[string]bool, len(foreignKey))
	for _, column := range foreignKey {
		fk[column] = true
		row.ForeignKey = append(row.ForeignKey, columns[column])
	}
	for column, value := range columns {
		switch {
		case column == "id":
			row.ID = cast.ToInt64(value)
		case column == "version_id":
			row.VersionID = cast.ToInt64(value)
		case column == "model":
			row.Model, _ = value.(string)
		case column == "field":
			row.Field, _ = value.(string)
		case column == "content":
			row.Content = value
		case fk[column]:
		default:
			if column == "created" {
				if t, ok := value.(time.Time); ok {
					row.Created = t
				}
			}
			row.Extra[column] = value
		}
	}
	return row
}
