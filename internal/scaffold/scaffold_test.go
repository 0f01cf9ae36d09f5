package scaffold

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rpattn/fieldver/internal/schema"
)

func column(name, typ string) schema.Column {
	return schema.Column{Name: name, Type: typ, Nullable: true}
}

func testProvider() schema.Static {
	return schema.Static{
		"articles": {
			Name:       "articles",
			PrimaryKey: []string{"id"},
			Columns: []schema.Column{
				column("id", "integer"), column("author_id", "integer"), column("version_id", "integer"),
				column("title", "string"), column("body", "text"),
			},
		},
		"articles_versions": {
			Name:       "articles_versions",
			PrimaryKey: []string{"id"},
			Columns: []schema.Column{
				column("id", "integer"), column("version_id", "integer"), column("model", "string"),
				column("foreign_key", "integer"), column("field", "string"), column("content", "text"),
			},
		},
		"authors": {
			Name:       "authors",
			PrimaryKey: []string{"id"},
			Columns:    []schema.Column{column("id", "integer"), column("name", "string")},
		},
	}
}

func TestGenerate(t *testing.T) {
	vars, err := Generate(context.Background(), testProvider(), "articles")
	require.NoError(t, err)
	require.Equal(t, "Articles", vars.Name)
	require.Equal(t, "article", vars.Subject)
	require.Equal(t, []Association{
		{Alias: "Authors", ForeignKey: "author_id", Table: "authors"},
		{Alias: "Versions", ForeignKey: "version_id", Table: "versions"},
	}, vars.BelongsTo)
	require.Equal(t, Rule{Name: "existsIn", Extra: "Versions"}, vars.RulesChecker["version_id"])
	require.Equal(t, []string{
		"articles",
		"article_author_id_version", "article_body_version", "article_title_version",
		"authors", "versions",
	}, vars.Fixtures)

	_, err = Generate(context.Background(), testProvider(), "missing")
	require.ErrorIs(t, err, schema.ErrTableNotFound)
}

func TestBeforeRenderTableAttachesBehavior(t *testing.T) {
	hooks := NewHooks(testProvider())
	vars, err := Generate(context.Background(), testProvider(), "articles")
	require.NoError(t, err)

	require.NoError(t, hooks.Run(context.Background(), KindTable, vars))
	require.Equal(t, map[string]string{"versionTable": "articles_versions"}, vars.Behaviors[VersionBehavior])
	require.Equal(t, []Association{{Alias: "Authors", ForeignKey: "author_id", Table: "authors"}}, vars.BelongsTo)
	require.NotContains(t, vars.RulesChecker, "version_id")
	require.Contains(t, vars.RulesChecker, "author_id")
}

func TestBeforeRenderTableWithoutVersionTable(t *testing.T) {
	hooks := NewHooks(testProvider())
	vars := &TemplateVars{
		Name:         "Authors",
		Table:        "authors",
		BelongsTo:    []Association{{Alias: "Versions", ForeignKey: "version_id"}},
		RulesChecker: map[string]Rule{"version_id": {Name: "existsIn", Extra: "Versions"}},
	}

	require.NoError(t, hooks.BeforeRenderTable(context.Background(), vars))
	require.Nil(t, vars.Behaviors)
	require.Len(t, vars.BelongsTo, 1)
	require.Contains(t, vars.RulesChecker, "version_id")
}

func TestBeforeRenderTableFixesVersionTables(t *testing.T) {
	hooks := NewHooks(testProvider())
	vars := &TemplateVars{
		Name:  "ArticlesVersions",
		Table: "articles_versions",
		BelongsTo: []Association{
			{Alias: "Versions", ForeignKey: "version_id"},
			{Alias: "Versions", ForeignKey: "other_id"},
		},
		RulesChecker: map[string]Rule{
			"version_id": {Name: "existsIn", Extra: "Something"},
			"other_id":   {Name: "existsIn", Extra: "Others"},
		},
	}

	require.NoError(t, hooks.BeforeRenderTable(context.Background(), vars))
	require.Equal(t, []Association{{Alias: "Versions", ForeignKey: "other_id"}}, vars.BelongsTo)
	require.Equal(t, map[string]Rule{"other_id": {Name: "existsIn", Extra: "Others"}}, vars.RulesChecker)
}

func TestBeforeRenderEntity(t *testing.T) {
	hooks := NewHooks(testProvider())
	vars := &TemplateVars{Name: "Articles", Table: "articles"}
	require.NoError(t, hooks.Run(context.Background(), KindEntity, vars))
	require.Contains(t, vars.Behaviors, VersionBehavior)
}

func TestBeforeRenderTestCase(t *testing.T) {
	hooks := NewHooks(testProvider())
	vars := &TemplateVars{
		Subject:  "article",
		Fixtures: []string{"articles", "article_body_version", "article_title_version", "comment_body_version", "article_version"},
	}
	require.NoError(t, hooks.Run(context.Background(), KindTestCase, vars))
	require.Equal(t, []string{"articles", "comment_body_version", "article_version"}, vars.Fixtures)
}

func TestTemplateVarsYAML(t *testing.T) {
	vars := &TemplateVars{
		Name:      "Articles",
		Table:     "articles",
		Subject:   "article",
		Behaviors: map[string]map[string]string{VersionBehavior: {"versionTable": "articles_versions"}},
	}
	out, err := vars.YAML()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	require.Equal(t, "articles", decoded["table"])
	require.NotContains(t, decoded, "belongs_to")
	require.Equal(t, map[string]any{"Version": map[string]any{"versionTable": "articles_versions"}}, decoded["behaviors"])
}
