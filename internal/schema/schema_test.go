package schema

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpattn/fieldver/internal/db"
)

func TestNormalizeType(t *testing.T) {
	cases := map[string]string{
		"INTEGER":                  "integer",
		"int4":                     "integer",
		"bigint":                   "biginteger",
		"smallint":                 "smallinteger",
		"character varying":        "string",
		"VARCHAR(255)":             "string",
		"text":                     "text",
		"jsonb":                    "json",
		"JSON":                     "json",
		"boolean":                  "boolean",
		"numeric(10,2)":            "decimal",
		"double precision":         "float",
		"REAL":                     "float",
		"timestamp with time zone": "datetime",
		"DATETIME":                 "datetime",
		"date":                     "date",
		"time without time zone":   "time",
		"bytea":                    "binary",
		"BLOB":                     "binary",
		"uuid":                     "uuid",
		"interval":                 "text",
		"":                         "text",
	}
	for declared, want := range cases {
		if got := NormalizeType(declared); got != want {
			t.Errorf("NormalizeType(%q) = %q, want %q", declared, got, want)
		}
	}
}

func TestTableHelpers(t *testing.T) {
	table := Table{
		Name:       "articles_tags",
		Columns:    []Column{{Name: "article_id", Type: "integer"}, {Name: "tag_id", Type: "integer"}, {Name: "sort_order", Type: "integer"}},
		PrimaryKey: []string{"article_id", "tag_id"},
	}
	require.Equal(t, []string{"article_id", "tag_id", "sort_order"}, table.ColumnNames())
	require.True(t, table.IsPrimaryKey("tag_id"))
	require.False(t, table.IsPrimaryKey("sort_order"))
	require.Equal(t, "integer", table.ColumnType("sort_order"))
	require.Equal(t, "", table.ColumnType("missing"))
	require.NoError(t, table.Validate())

	table.PrimaryKey = []string{"id"}
	require.Error(t, table.Validate())
}

func TestSQLProviderSQLite(t *testing.T) {
	ctx := context.Background()
	conn, err := db.NewConnection(ctx, db.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "schema.db")})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.DB.Exec(`CREATE TABLE articles (
		id INTEGER PRIMARY KEY,
		title VARCHAR(255),
		settings JSON,
		created DATETIME NOT NULL
	)`)
	require.NoError(t, err)
	_, err = conn.DB.Exec(`CREATE TABLE articles_tags (
		article_id INTEGER NOT NULL,
		tag_id INTEGER NOT NULL,
		sort_order INTEGER DEFAULT 1,
		PRIMARY KEY (tag_id, article_id)
	)`)
	require.NoError(t, err)

	provider := NewSQLProvider(conn)

	articles, err := provider.Describe(ctx, "articles")
	require.NoError(t, err)
	require.Equal(t, []string{"id", "title", "settings", "created"}, articles.ColumnNames())
	require.Equal(t, []string{"id"}, articles.PrimaryKey)
	require.Equal(t, "json", articles.ColumnType("settings"))
	idColumn, _ := articles.Column("id")
	require.True(t, idColumn.AutoIncrement)
	created, _ := articles.Column("created")
	require.False(t, created.Nullable)

	tags, err := provider.Describe(ctx, "articles_tags")
	require.NoError(t, err)
	require.Equal(t, []string{"tag_id", "article_id"}, tags.PrimaryKey)

	_, err = provider.Describe(ctx, "nope")
	require.ErrorIs(t, err, ErrTableNotFound)

	tables, err := provider.ListTables(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"articles", "articles_tags"}, tables)
}
