// Package scaffold adjusts generated table, entity and test case templates
// for tables that keep field versions.
package scaffold

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/rpattn/fieldver/internal/schema"
	"github.com/rpattn/fieldver/internal/versioning"
)

// Template kinds understood by Run.
const (
	KindTable    = "table"
	KindEntity   = "entity"
	KindTestCase = "test_case"
)

// VersionBehavior is the key of the versioning behavior in TemplateVars.Behaviors.
const VersionBehavior = "Version"

const (
	versionTableSuffix = "versions"
	versionsAlias      = "Versions"
	versionIDColumn    = "version_id"
)

// Association is a generated belongs-to association.
type Association struct {
	Alias      string `yaml:"alias"`
	ForeignKey string `yaml:"foreign_key"`
	Table      string `yaml:"table"`
}

// Rule is a generated rules-checker entry.
type Rule struct {
	Name  string `yaml:"name"`
	Extra string `yaml:"extra,omitempty"`
}

// TemplateVars are the variables a template is rendered with.
type TemplateVars struct {
	Name         string                       `yaml:"name"`
	Table        string                       `yaml:"table"`
	Subject      string                       `yaml:"subject"`
	Behaviors    map[string]map[string]string `yaml:"behaviors,omitempty"`
	BelongsTo    []Association                `yaml:"belongs_to,omitempty"`
	RulesChecker map[string]Rule              `yaml:"rules_checker,omitempty"`
	Fixtures     []string                     `yaml:"fixtures,omitempty"`
}

// YAML renders the variables for inspection.
func (v *TemplateVars) YAML() ([]byte, error) {
	return yaml.Marshal(v)
}

// Hooks rewrite template variables before rendering.
type Hooks struct {
	provider schema.Provider
}

func NewHooks(provider schema.Provider) *Hooks {
	return &Hooks{provider: provider}
}

// Run applies the hook registered for kind. Unknown kinds are left alone.
func (h *Hooks) Run(ctx context.Context, kind string, vars *TemplateVars) error {
	switch kind {
	case KindTable:
		return h.BeforeRenderTable(ctx, vars)
	case KindEntity:
		return h.BeforeRenderEntity(ctx, vars)
	case KindTestCase:
		h.BeforeRenderTestCase(vars)
		return nil
	default:
		return nil
	}
}

// BeforeRenderTable attaches versioning when a version table exists and
// strips the version_id association generated for version tables.
func (h *Hooks) BeforeRenderTable(ctx context.Context, vars *TemplateVars) error {
	if _, err := h.checkAssociation(ctx, vars); err != nil {
		return err
	}
	fixVersionTables(vars)
	return nil
}

// BeforeRenderEntity attaches versioning when a version table exists.
func (h *Hooks) BeforeRenderEntity(ctx context.Context, vars *TemplateVars) error {
	_, err := h.checkAssociation(ctx, vars)
	return err
}

// BeforeRenderTestCase drops the fixtures generated for per-field version
// associations of the subject.
func (h *Hooks) BeforeRenderTestCase(vars *TemplateVars) {
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(vars.Subject) + `_(\w+)_version$`)
	kept := vars.Fixtures[:0]
	for _, fixture := range vars.Fixtures {
		if pattern.MatchString(fixture) {
			continue
		}
		kept = append(kept, fixture)
	}
	vars.Fixtures = kept
}

func (h *Hooks) checkAssociation(ctx context.Context, vars *TemplateVars) (bool, error) {
	versionTable := fmt.Sprintf("%s_%s", vars.Table, versionTableSuffix)
	tables, err := h.provider.ListTables(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list tables: %w", err)
	}
	found := false
	for _, table := range tables {
		if table == versionTable {
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}

	if vars.Behaviors == nil {
		vars.Behaviors = map[string]map[string]string{}
	}
	vars.Behaviors[VersionBehavior] = map[string]string{"versionTable": versionTable}
	vars.BelongsTo = withoutVersionsAssociation(vars.BelongsTo)
	for key, rule := range vars.RulesChecker {
		if key == versionIDColumn && rule.Extra == versionsAlias {
			delete(vars.RulesChecker, key)
		}
	}

	logrus.WithFields(logrus.Fields{"table": vars.Table, "version_table": versionTable}).Debug("attached version behavior")
	return true, nil
}

func fixVersionTables(vars *TemplateVars) {
	if !strings.HasSuffix(vars.Name, versionsAlias) {
		return
	}
	delete(vars.RulesChecker, versionIDColumn)
	vars.BelongsTo = withoutVersionsAssociation(vars.BelongsTo)
}

func withoutVersionsAssociation(associations []Association) []Association {
	out := associations[:0]
	for _, a := range associations {
		if a.Alias == versionsAlias && a.ForeignKey == versionIDColumn {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Generate derives the default template variables of a table from its
// schema: every "<name>_id" column becomes a belongs-to association with an
// existsIn rule. Tables with a version table also list the fixtures of their
// per-field version associations.
func Generate(ctx context.Context, provider schema.Provider, table string) (*TemplateVars, error) {
	described, err := provider.Describe(ctx, table)
	if err != nil {
		return nil, err
	}
	tables, err := provider.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	known := make(map[string]bool, len(tables))
	for _, t := range tables {
		known[t] = true
	}

	subject := inflection.Singular(table)
	vars := &TemplateVars{
		Name:         versioning.Camelize(table),
		Table:        table,
		Subject:      subject,
		RulesChecker: map[string]Rule{},
		Fixtures:     []string{table},
	}

	for _, column := range described.Columns {
		target, ok := strings.CutSuffix(column.Name, "_id")
		if !ok || target == "" || described.IsPrimaryKey(column.Name) {
			continue
		}
		targetTable := inflection.Plural(target)
		alias := versioning.Camelize(targetTable)
		vars.BelongsTo = append(vars.BelongsTo, Association{Alias: alias, ForeignKey: column.Name, Table: targetTable})
		vars.RulesChecker[column.Name] = Rule{Name: "existsIn", Extra: alias}
		vars.Fixtures = append(vars.Fixtures, targetTable)
	}

	if known[fmt.Sprintf("%s_%s", table, versionTableSuffix)] {
		for _, column := range described.Columns {
			if described.IsPrimaryKey(column.Name) || column.Name == versionIDColumn {
				continue
			}
			vars.Fixtures = append(vars.Fixtures, fmt.Sprintf("%s_%s_version", subject, column.Name))
		}
	}
	sort.Strings(vars.Fixtures[1:])
	return vars, nil
}
