package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/rpattn/fieldver/internal/db"
)

// SQLProvider introspects tables through the database catalog.
type SQLProvider struct {
	db      *sqlx.DB
	dialect db.Dialect
}

// NewSQLProvider creates a provider for the connection's dialect.
func NewSQLProvider(conn *db.Connection) *SQLProvider {
	return &SQLProvider{db: conn.DB, dialect: conn.Dialect}
}

type postgresColumnRow struct {
	Name       string `db:"column_name"`
	DataType   string `db:"data_type"`
	IsNullable string `db:"is_nullable"`
	Default    string `db:"column_default"`
	IsIdentity string `db:"is_identity"`
}

type sqliteColumnRow struct {
	Name    string `db:"name"`
	Type    string `db:"type"`
	NotNull int    `db:"notnull"`
	PK      int    `db:"pk"`
}

// Describe implements Provider.
func (p *SQLProvider) Describe(ctx context.Context, table string) (Table, error) {
	var (
		t   Table
		err error
	)
	switch p.dialect {
	case db.SQLite:
		t, err = p.describeSQLite(ctx, table)
	default:
		t, err = p.describePostgres(ctx, table)
	}
	if err != nil {
		return Table{}, err
	}
	if len(t.Columns) == 0 {
		return Table{}, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return t, nil
}

func (p *SQLProvider) describePostgres(ctx context.Context, table string) (Table, error) {
	var rows []postgresColumnRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT column_name, data_type, is_nullable,
		       COALESCE(column_default, '') AS column_default,
		       COALESCE(is_identity, 'NO') AS is_identity
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, table)
	if err != nil {
		return Table{}, fmt.Errorf("failed to describe table %s: %w", table, err)
	}

	var primaryKey []string
	err = p.db.SelectContext(ctx, &primaryKey, `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		 AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = current_schema()
		  AND tc.table_name = $1
		ORDER BY kcu.ordinal_position`, table)
	if err != nil {
		return Table{}, fmt.Errorf("failed to read primary key of %s: %w", table, err)
	}

	t := Table{Name: table, PrimaryKey: primaryKey}
	for _, row := range rows {
		t.Columns = append(t.Columns, Column{
			Name:          row.Name,
			Type:          NormalizeType(row.DataType),
			Nullable:      row.IsNullable == "YES",
			AutoIncrement: strings.HasPrefix(row.Default, "nextval(") || row.IsIdentity == "YES",
		})
	}
	return t, nil
}

func (p *SQLProvider) describeSQLite(ctx context.Context, table string) (Table, error) {
	var rows []sqliteColumnRow
	err := p.db.SelectContext(ctx, &rows,
		`SELECT name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return Table{}, fmt.Errorf("failed to describe table %s: %w", table, err)
	}

	t := Table{Name: table}
	type pkColumn struct {
		name  string
		index int
	}
	var pks []pkColumn
	for _, row := range rows {
		t.Columns = append(t.Columns, Column{
			Name:     row.Name,
			Type:     NormalizeType(row.Type),
			Nullable: row.NotNull == 0 && row.PK == 0,
		})
		if row.PK > 0 {
			pks = append(pks, pkColumn{name: row.Name, index: row.PK})
		}
	}
	sort.Slice(pks, func(i, j int) bool { return pks[i].index < pks[j].index })
	for _, pk := range pks {
		t.PrimaryKey = append(t.PrimaryKey, pk.name)
	}
	// a lone INTEGER primary key aliases the rowid
	if len(pks) == 1 {
		for i := range t.Columns {
			if t.Columns[i].Name == pks[0].name && t.Columns[i].Type == "integer" {
				t.Columns[i].AutoIncrement = true
			}
		}
	}
	return t, nil
}

// ListTables implements Provider.
func (p *SQLProvider) ListTables(ctx context.Context) ([]string, error) {
	var (
		names []string
		query string
	)
	switch p.dialect {
	case db.SQLite:
		query = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	default:
		query = `SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
			ORDER BY table_name`
	}
	if err := p.db.SelectContext(ctx, &names, query); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return names, nil
}
