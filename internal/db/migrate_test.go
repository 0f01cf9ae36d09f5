package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func TestRunMigrationsSQLite(t *testing.T) {
	cfg := Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "migrate.db")}

	require.NoError(t, RunMigrations(cfg))
	// second run is a no-op
	require.NoError(t, RunMigrations(cfg))

	conn, err := NewConnection(context.Background(), cfg)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.DB.Exec(`INSERT INTO version (version_id, model, foreign_key, field, content) VALUES (1, 'Articles', 1, 'title', 'x')`)
	require.NoError(t, err)

	_, err = conn.DB.Exec(`INSERT INTO version (version_id, model, foreign_key, field, content) VALUES (1, 'Articles', 1, 'title', 'y')`)
	require.Error(t, err, "duplicate (model, foreign_key, version_id, field) must be rejected")
}

func TestWithTxRollsBackOnError(t *testing.T) {
	cfg := Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "tx.db")}
	conn, err := NewConnection(context.Background(), cfg)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.DB.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	err = conn.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`INSERT INTO items (name) VALUES ('a')`); err != nil {
			return err
		}
		_, err := tx.Exec(`INSERT INTO missing (name) VALUES ('b')`)
		return err
	})
	require.Error(t, err)

	var count int
	require.NoError(t, conn.DB.Get(&count, `SELECT COUNT(*) FROM items`))
	require.Equal(t, 0, count)
}

func TestParseDialect(t *testing.T) {
	cases := map[string]Dialect{"": Postgres, "postgres": Postgres, "pgx": Postgres, "sqlite": SQLite, "SQLite3": SQLite}
	for in, want := range cases {
		got, err := ParseDialect(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseDialect("oracle")
	require.Error(t, err)
}

func TestConfigDSN(t *testing.T) {
	dsn, err := DefaultConfig().DSN()
	require.NoError(t, err)
	require.Equal(t, "host=localhost port=5432 user=postgres password=admin dbname=fieldver sslmode=disable", dsn)

	dsn, err = Config{Driver: "sqlite", Path: "/tmp/x.db"}.DSN()
	require.NoError(t, err)
	require.Contains(t, dsn, "/tmp/x.db?")
}
