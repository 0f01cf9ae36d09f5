package versioning

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpattn/fieldver/internal/db"
	"github.com/rpattn/fieldver/internal/events"
	"github.com/rpattn/fieldver/internal/repository"
	"github.com/rpattn/fieldver/internal/schema"
)

var fixtureSQL = []string{
	`CREATE TABLE articles (
		id INTEGER PRIMARY KEY,
		author_id INTEGER,
		version_id INTEGER,
		title VARCHAR(255),
		body TEXT,
		published CHAR(1) DEFAULT 'N',
		settings JSON
	)`,
	`INSERT INTO articles (author_id, version_id, title, body, published) VALUES
		(1, 2, 'First Article Version 2', 'First Article Body Version 2', 'N'),
		(2, 3, 'Second Article Version 3', 'Second Article Body Version 3', 'N')`,

	`CREATE TABLE version (
		id INTEGER PRIMARY KEY,
		version_id INTEGER NOT NULL,
		model VARCHAR(255) NOT NULL,
		foreign_key INTEGER NOT NULL,
		field VARCHAR(255) NOT NULL,
		content TEXT,
		custom_field TEXT,
		created DATETIME
	)`,
	`INSERT INTO version (version_id, model, foreign_key, field, content, custom_field) VALUES
		(1, 'Articles', 1, 'author_id', '1', NULL),
		(1, 'Articles', 1, 'title', 'First Article', NULL),
		(1, 'Articles', 1, 'body', 'First Article Body', NULL),
		(1, 'Articles', 1, 'published', 'Y', NULL),
		(2, 'Articles', 1, 'author_id', '1', 'foo'),
		(2, 'Articles', 1, 'title', 'First Article Version 2', 'foo'),
		(2, 'Articles', 1, 'body', 'First Article Body Version 2', 'foo'),
		(2, 'Articles', 1, 'published', 'N', 'foo'),
		(1, 'Articles', 2, 'author_id', '2', NULL),
		(1, 'Articles', 2, 'title', 'Second Article version 1', NULL),
		(1, 'Articles', 2, 'body', 'Second Article Body', NULL),
		(1, 'Articles', 2, 'published', 'Y', NULL),
		(2, 'Articles', 2, 'author_id', '2', NULL),
		(2, 'Articles', 2, 'title', 'Second Article version 2', NULL),
		(2, 'Articles', 2, 'body', 'Second Article Body', NULL),
		(2, 'Articles', 2, 'published', 'Y', NULL),
		(3, 'Articles', 2, 'author_id', '2', NULL),
		(3, 'Articles', 2, 'title', 'Second Article version 3', NULL),
		(3, 'Articles', 2, 'body', 'Second Article Body', NULL),
		(3, 'Articles', 2, 'published', 'Y', NULL)`,

	`CREATE TABLE articles_tags (
		article_id INTEGER NOT NULL,
		tag_id INTEGER NOT NULL,
		version_id INTEGER,
		sort_order INTEGER DEFAULT 1,
		PRIMARY KEY (article_id, tag_id)
	)`,
	`INSERT INTO articles_tags (article_id, tag_id, version_id, sort_order) VALUES (1, 1, 2, 1)`,

	`CREATE TABLE articles_tags_versions (
		id INTEGER PRIMARY KEY,
		version_id INTEGER NOT NULL,
		model VARCHAR(255) NOT NULL,
		article_id INTEGER NOT NULL,
		tag_id INTEGER NOT NULL,
		field VARCHAR(255) NOT NULL,
		content TEXT,
		custom_field TEXT
	)`,
	`INSERT INTO articles_tags_versions (version_id, model, article_id, tag_id, field, content) VALUES
		(1, 'ArticlesTags', 1, 1, 'sort_order', '1'),
		(2, 'ArticlesTags', 1, 1, 'sort_order', '2')`,

	`CREATE TABLE versions_with_user (
		id INTEGER PRIMARY KEY,
		version_id INTEGER NOT NULL,
		user_id INTEGER,
		model VARCHAR(255) NOT NULL,
		foreign_key INTEGER NOT NULL,
		field VARCHAR(255) NOT NULL,
		content TEXT
	)`,
	`INSERT INTO versions_with_user (version_id, model, foreign_key, field, content, user_id) VALUES
		(1, 'Articles', 1, 'author_id', '1', 2),
		(1, 'Articles', 1, 'title', 'First Article', 2),
		(1, 'Articles', 1, 'body', 'First Article Body', 2),
		(1, 'Articles', 1, 'published', 'Y', 2),
		(2, 'Articles', 1, 'author_id', '1', 3),
		(2, 'Articles', 1, 'title', 'First Article Version 2', 3),
		(2, 'Articles', 1, 'body', 'First Article Body Version 2', 3),
		(2, 'Articles', 1, 'published', 'N', 3)`,

	`CREATE TABLE unkeyed (name TEXT)`,
}

type fixture struct {
	conn     *db.Connection
	provider schema.Provider
	events   *events.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.NewConnection(context.Background(), db.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "versioning.db"),
	})
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	for _, stmt := range fixtureSQL {
		_, err := conn.DB.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return &fixture{conn: conn, provider: schema.NewSQLProvider(conn), events: events.NewManager()}
}

func (f *fixture) attach(t *testing.T, name, alias string, config Config) (*repository.Table, *Behavior) {
	t.Helper()
	ctx := context.Background()
	var opts []repository.TableOption
	if alias != "" {
		opts = append(opts, repository.WithAlias(alias))
	}
	table, err := repository.NewTable(ctx, f.conn, f.provider, name, opts...)
	require.NoError(t, err)
	behavior, err := Attach(ctx, table, config, f.events)
	require.NoError(t, err)
	return table, behavior
}

func (f *fixture) articles(t *testing.T, config Config) (*repository.Table, *Behavior) {
	return f.attach(t, "articles", "Articles", config)
}

func (f *fixture) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, f.conn.DB.Get(&n, query, args...))
	return n
}

func (f *fixture) fields(t *testing.T, query string, args ...any) []string {
	t.Helper()
	var out []string
	require.NoError(t, f.conn.DB.Select(&out, query, args...))
	return out
}
