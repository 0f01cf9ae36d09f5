package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/fieldver/internal/domain"
	"github.com/rpattn/fieldver/internal/versioning"
)

const (
	versionsSheet = "Versions"
	xlsxMediaType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// buildWorkbook lays out one row per version: the version number, each
// versioned field, then the additional version attributes.
func buildWorkbook(b *versioning.Behavior, versions *domain.VersionSet) (*excelize.File, error) {
	config := b.Config()
	header := []string{config.VersionField}
	for _, field := range b.Fields() {
		if b.Table().Schema().IsPrimaryKey(field) || field == config.VersionField {
			continue
		}
		header = append(header, field)
	}
	for _, additional := range config.AdditionalVersionFields {
		header = append(header, additional.Name)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), versionsSheet); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	headerRow := make([]any, len(header))
	for i, name := range header {
		headerRow[i] = name
	}
	if err := f.SetSheetRow(versionsSheet, "A1", &headerRow); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for i, version := range versions.All() {
		values := version.ToMap()
		row := make([]any, len(header))
		for j, name := range header {
			row[j] = cellValue(values[name])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := f.SetSheetRow(versionsSheet, cell, &row); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to write version %d: %w", version.ID(), err)
		}
	}
	return f, nil
}

func cellValue(value any) any {
	switch v := value.(type) {
	case nil, string, bool, int64, float64, time.Time:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}

func (h *Handler) writeWorkbook(w http.ResponseWriter, r *http.Request, b *versioning.Behavior, versions *domain.VersionSet) {
	f, err := buildWorkbook(b, versions)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	defer func() { _ = f.Close() }()

	filename := fmt.Sprintf("%s-%s-versions.xlsx", b.Table().Name(), strings.ReplaceAll(chi.URLParam(r, "pk"), ",", "-"))
	w.Header().Set("Content-Type", xlsxMediaType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := f.Write(w); err != nil {
		logrus.WithField("table", b.Table().Name()).WithError(err).Warn("failed to stream workbook")
	}
}
