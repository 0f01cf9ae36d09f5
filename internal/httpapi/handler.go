// Package httpapi serves versioned records over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/fieldver/internal/codec"
	"github.com/rpattn/fieldver/internal/domain"
	"github.com/rpattn/fieldver/internal/middleware"
	"github.com/rpattn/fieldver/internal/repository"
	"github.com/rpattn/fieldver/internal/versioning"
	"github.com/rpattn/fieldver/internal/versionloader"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Handler exposes the records of versioned tables.
type Handler struct {
	tables map[string]*versioning.Behavior
}

// NewHandler serves the tables the behaviors are attached to.
func NewHandler(behaviors ...*versioning.Behavior) *Handler {
	tables := make(map[string]*versioning.Behavior, len(behaviors))
	for _, b := range behaviors {
		tables[b.Table().Name()] = b
	}
	return &Handler{tables: tables}
}

// Sources returns the batch sources for middleware.DataLoaderMiddleware.
func (h *Handler) Sources() map[string]versionloader.BatchSource {
	sources := make(map[string]versionloader.BatchSource, len(h.tables))
	for name, b := range h.tables {
		sources[name] = b
	}
	return sources
}

// Tables lists the served table names.
func (h *Handler) Tables() []string {
	names := make([]string, 0, len(h.tables))
	for name := range h.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Routes mounts the record endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/records/{table}", func(r chi.Router) {
		r.Get("/", h.ListRecords)
		r.Route("/{pk}", func(r chi.Router) {
			r.Patch("/", h.PatchRecord)
			r.Get("/versions", h.ListVersions)
			r.Get("/versions/{versionID}", h.GetVersion)
			r.Get("/versions/{versionID}/diff", h.DiffVersion)
		})
	})
}

type recordResponse struct {
	Record   map[string]any   `json:"record"`
	Versions []map[string]any `json:"versions"`
}

func (h *Handler) behavior(w http.ResponseWriter, r *http.Request) (*versioning.Behavior, bool) {
	name := chi.URLParam(r, "table")
	b, ok := h.tables[name]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown table %q", name), http.StatusNotFound)
		return nil, false
	}
	return b, true
}

// parseKey splits a comma separated primary key in key column order.
func parseKey(table *repository.Table, raw string) ([]any, error) {
	parts := strings.Split(raw, ",")
	values := make([]any, len(parts))
	for i, part := range parts {
		values[i] = strings.TrimSpace(part)
	}
	return table.ParseKey(values)
}

// findWithVersions fetches one record with its versions already grouped.
func (h *Handler) findWithVersions(w http.ResponseWriter, r *http.Request, b *versioning.Behavior, options map[string]any) (*domain.Entity, bool) {
	table := b.Table()
	key, err := parseKey(table, chi.URLParam(r, "pk"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	options["primaryKey"] = key

	q, err := table.FindBy(versioning.FinderName, options)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	e, err := q.Where(repository.KeyIn(table.PrimaryKey(), [][]any{key})).First(r.Context())
	if errors.Is(err, repository.ErrRecordNotFound) {
		http.Error(w, "record not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.serverError(w, r, err)
		return nil, false
	}
	return e, true
}

// ListVersions returns every version of a record in version order. With
// format=xlsx the versions are streamed as a spreadsheet.
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	b, ok := h.behavior(w, r)
	if !ok {
		return
	}
	e, ok := h.findWithVersions(w, r, b, map[string]any{})
	if !ok {
		return
	}
	versions, err := e.Versions(r.Context(), false)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "xlsx" {
		h.writeWorkbook(w, r, b, versions)
		return
	}
	writeJSON(w, http.StatusOK, versionMaps(versions))
}

// GetVersion returns a single version of a record or 404.
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	b, ok := h.behavior(w, r)
	if !ok {
		return
	}
	versionID, err := strconv.ParseInt(chi.URLParam(r, "versionID"), 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid version id: %v", err), http.StatusBadRequest)
		return
	}
	e, ok := h.findWithVersions(w, r, b, map[string]any{"versionId": versionID})
	if !ok {
		return
	}
	version, err := e.Version(r.Context(), versionID, false)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if version == nil {
		http.Error(w, "version not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, version.ToMap())
}

// DiffVersion renders a unified diff of a version against the version given
// by the against parameter, or against the version before it.
func (h *Handler) DiffVersion(w http.ResponseWriter, r *http.Request) {
	b, ok := h.behavior(w, r)
	if !ok {
		return
	}
	versionID, err := strconv.ParseInt(chi.URLParam(r, "versionID"), 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid version id: %v", err), http.StatusBadRequest)
		return
	}
	e, ok := h.findWithVersions(w, r, b, map[string]any{})
	if !ok {
		return
	}
	versions, err := e.Versions(r.Context(), false)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	target := versions.Get(versionID)
	if target == nil {
		http.Error(w, "version not found", http.StatusNotFound)
		return
	}

	var base *domain.Version
	if raw := r.URL.Query().Get("against"); raw != "" {
		againstID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid against version: %v", err), http.StatusBadRequest)
			return
		}
		if base = versions.Get(againstID); base == nil {
			http.Error(w, "version not found", http.StatusNotFound)
			return
		}
	} else {
		base = previousVersion(versions, versionID)
	}

	baseLabel := "(none)"
	if base != nil {
		baseLabel = fmt.Sprintf("version %d", base.ID())
	}
	diff, err := domain.DiffVersions(baseLabel, base, fmt.Sprintf("version %d", versionID), target)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/x-diff; charset=utf-8")
	_, _ = w.Write([]byte(diff))
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

// ListRecords returns records with their versions. The ids parameter
// selects records by key; it may be repeated and, for single column keys,
// hold several comma separated ids. Composite keys take one id parameter
// per record.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	b, ok := h.behavior(w, r)
	if !ok {
		return
	}
	table := b.Table()
	q := table.Find().OrderBy(table.PrimaryKey()...)

	keys, err := parseIDs(table, r.URL.Query()["ids"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(keys) > 0 {
		q.Where(repository.KeyIn(table.PrimaryKey(), keys))
	} else {
		limit, err := parseLimit(r.URL.Query().Get("limit"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		q.Limit(limit)
	}

	entities, err := q.All(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	if loader := middleware.VersionLoaderFromContext(r.Context(), table.Name()); loader != nil {
		for _, e := range entities {
			e.Bind(loader)
		}
	}

	g, ctx := errgroup.WithContext(r.Context())
	out := make([]recordResponse, len(entities))
	for i, e := range entities {
		g.Go(func() error {
			versions, err := e.Versions(ctx, false)
			if err != nil {
				return err
			}
			out[i] = recordResponse{Record: e.ToMap(), Versions: versionMaps(versions)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// PatchRecord applies a JSON object of column values to a record and saves
// it, which writes a new version.
func (h *Handler) PatchRecord(w http.ResponseWriter, r *http.Request) {
	b, ok := h.behavior(w, r)
	if !ok {
		return
	}
	table := b.Table()
	key, err := parseKey(table, chi.URLParam(r, "pk"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	defer r.Body.Close()
	var payload map[string]any
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	for column := range payload {
		if !table.Schema().HasColumn(column) {
			http.Error(w, fmt.Sprintf("unknown column %q", column), http.StatusBadRequest)
			return
		}
		if table.Schema().IsPrimaryKey(column) {
			http.Error(w, fmt.Sprintf("primary key column %q cannot be patched", column), http.StatusBadRequest)
			return
		}
	}

	e, err := table.Get(r.Context(), key...)
	if errors.Is(err, repository.ErrRecordNotFound) {
		http.Error(w, "record not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	values, err := table.Codec().Convert(codec.NormalizeNumbers(payload), table.Schema(), codec.ToNative)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	e.Patch(values)

	if err := table.Save(r.Context(), e, &repository.SaveOptions{}); err != nil {
		h.serverError(w, r, err)
		return
	}
	versionID, err := b.GetVersionID(r.Context(), e)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"record":     e.ToMap(),
		"version_id": versionID,
	})
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	logrus.WithFields(logrus.Fields{
		"request_id": middleware.RequestIDFromContext(r.Context()),
		"path":       r.URL.Path,
	}).WithError(err).Error("request failed")
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func versionMaps(versions *domain.VersionSet) []map[string]any {
	out := make([]map[string]any, 0, versions.Len())
	for _, v := range versions.All() {
		out = append(out, v.ToMap())
	}
	return out
}

func parseIDs(table *repository.Table, params []string) ([][]any, error) {
	width := len(table.PrimaryKey())
	var keys [][]any
	for _, param := range params {
		if strings.TrimSpace(param) == "" {
			continue
		}
		if width == 1 {
			for _, id := range strings.Split(param, ",") {
				key, err := table.ParseKey([]any{strings.TrimSpace(id)})
				if err != nil {
					return nil, err
				}
				keys = append(keys, key)
			}
			continue
		}
		key, err := parseKey(table, param)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func parseLimit(raw string) (uint64, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || limit == 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
