package repository

import (
	"context"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/fieldver/internal/domain"
	"github.com/rpattn/fieldver/internal/schema"
)

// Save persists the entity and every association bound to it in one
// transaction. New entities are inserted, persisted ones update their dirty
// columns. Associated rows whose foreign key is unset receive the entity's
// primary key once it is known.
func (t *Table) Save(ctx context.Context, e *domain.Entity, opts *SaveOptions) error {
	if opts == nil {
		opts = &SaveOptions{}
	}

	t.mu.RLock()
	hooks := append([]SaveHook(nil), t.hooks...)
	t.mu.RUnlock()

	// a failed save leaves the entity as the caller handed it over
	state := e.Snapshot()

	for _, hook := range hooks {
		if err := hook.BeforeSave(ctx, e, opts); err != nil {
			e.Restore(state)
			return fmt.Errorf("failed to prepare %s entity: %w", t.alias, err)
		}
	}

	// associations are resolved before the transaction holds a connection
	associated := map[string]schema.Table{}
	for _, name := range e.Associations() {
		assoc, _ := e.Associated(name)
		if assoc.ReadOnly {
			continue
		}
		s, err := t.relatedSchema(ctx, assoc.Table)
		if err != nil {
			e.Restore(state)
			return err
		}
		associated[name] = s
	}

	err := t.conn.WithTx(ctx, func(tx *sqlx.Tx) error {
		if e.IsNew() {
			if err := t.insert(ctx, tx, e); err != nil {
				return err
			}
		} else if err := t.update(ctx, tx, e); err != nil {
			return err
		}

		for _, name := range e.Associations() {
			assoc, _ := e.Associated(name)
			if assoc.ReadOnly {
				continue
			}
			if err := t.insertAssociated(ctx, tx, e, assoc, associated[name]); err != nil {
				return fmt.Errorf("failed to save %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		e.Restore(state)
		return err
	}

	e.MarkPersisted()

	for _, hook := range hooks {
		if err := hook.AfterSave(ctx, e, opts); err != nil {
			return fmt.Errorf("failed to finish %s save: %w", t.alias, err)
		}
	}
	return nil
}

func (t *Table) insert(ctx context.Context, tx *sqlx.Tx, e *domain.Entity) error {
	columns := make([]string, 0)
	for _, column := range t.schema.ColumnNames() {
		if e.Has(column) {
			columns = append(columns, column)
		}
	}
	if len(columns) == 0 {
		return fmt.Errorf("nothing to insert into %s", t.schema.Name)
	}

	values := make([]any, len(columns))
	for i, column := range columns {
		arg, err := columnArg(t.registry, t.schema, column, e.Get(column))
		if err != nil {
			return fmt.Errorf("failed to encode %s.%s: %w", t.schema.Name, column, err)
		}
		values[i] = arg
	}

	builder := t.builder.Insert(t.schema.Name).Columns(columns...).Values(values...)

	generated := t.generatedKey(e)
	if generated == "" {
		query, args, err := builder.ToSql()
		if err != nil {
			return fmt.Errorf("failed to build insert into %s: %w", t.schema.Name, err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", t.schema.Name, err)
		}
		return nil
	}

	query, args, err := builder.Suffix("RETURNING " + generated).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert into %s: %w", t.schema.Name, err)
	}
	var id any
	if err := tx.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", t.schema.Name, err)
	}
	native, err := hydrateValue(t.registry, t.schema, generated, id)
	if err != nil {
		return err
	}
	e.Set(generated, native)
	return nil
}

// generatedKey names the auto increment primary key column when the
// database has to assign it for this entity.
func (t *Table) generatedKey(e *domain.Entity) string {
	if len(t.schema.PrimaryKey) != 1 {
		return ""
	}
	column := t.schema.PrimaryKey[0]
	c, ok := t.schema.Column(column)
	if !ok || !c.AutoIncrement || e.Get(column) != nil {
		return ""
	}
	return column
}

func (t *Table) update(ctx context.Context, tx *sqlx.Tx, e *domain.Entity) error {
	set := map[string]any{}
	for _, column := range e.DirtyFields() {
		if !t.schema.HasColumn(column) || t.schema.IsPrimaryKey(column) {
			continue
		}
		arg, err := columnArg(t.registry, t.schema, column, e.Get(column))
		if err != nil {
			return fmt.Errorf("failed to encode %s.%s: %w", t.schema.Name, column, err)
		}
		set[column] = arg
	}
	if len(set) == 0 {
		return nil
	}

	key := t.PrimaryKeyValues(e)
	for i, value := range key {
		if value == nil {
			return fmt.Errorf("cannot update %s without primary key %s", t.schema.Name, t.schema.PrimaryKey[i])
		}
	}

	query, args, err := t.builder.Update(t.schema.Name).SetMap(set).Where(t.keyCondition(key)).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update of %s: %w", t.schema.Name, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update %s: %w", t.schema.Name, err)
	}
	return nil
}

func (t *Table) insertAssociated(ctx context.Context, tx *sqlx.Tx, e *domain.Entity, assoc domain.Association, target schema.Table) error {
	key := t.PrimaryKeyValues(e)
	dropped := map[string]bool{}

	for _, row := range assoc.Rows {
		values := make(map[string]any, len(row))
		for column, value := range row {
			values[column] = value
		}
		for i, column := range assoc.ForeignKey {
			if values[column] == nil && i < len(key) {
				values[column] = key[i]
			}
		}

		columns := make([]string, 0, len(values))
		for column, value := range values {
			if !target.HasColumn(column) {
				dropped[column] = true
				continue
			}
			if value == nil && target.IsPrimaryKey(column) {
				continue
			}
			columns = append(columns, column)
		}
		sort.Strings(columns)

		args := make([]any, len(columns))
		for i, column := range columns {
			arg, err := columnArg(t.registry, target, column, values[column])
			if err != nil {
				return fmt.Errorf("failed to encode %s.%s: %w", target.Name, column, err)
			}
			args[i] = arg
		}

		query, queryArgs, err := t.builder.Insert(target.Name).Columns(columns...).Values(args...).ToSql()
		if err != nil {
			return fmt.Errorf("failed to build insert into %s: %w", target.Name, err)
		}
		if _, err := tx.ExecContext(ctx, query, queryArgs...); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", target.Name, err)
		}
	}

	if len(dropped) > 0 {
		names := make([]string, 0, len(dropped))
		for column := range dropped {
			names = append(names, column)
		}
		sort.Strings(names)
		logrus.WithFields(logrus.Fields{"table": target.Name, "columns": names}).Warn("dropped unknown columns from associated rows")
	}

	logrus.WithFields(logrus.Fields{"table": target.Name, "rows": len(assoc.Rows)}).Debug("saved associated rows")
	return nil
}

// keyTuples renders an IN predicate over one or more key tuples.
func keyTuples(columns []string, tuples [][]any) sq.Sqlizer {
	if len(columns) == 1 {
		values := make([]any, len(tuples))
		for i, tuple := range tuples {
			values[i] = tuple[0]
		}
		return sq.Eq{columns[0]: values}
	}
	or := sq.Or{}
	for _, tuple := range tuples {
		cond := sq.Eq{}
		for i, column := range columns {
			cond[column] = tuple[i]
		}
		or = append(or, cond)
	}
	return or
}

// KeyIn restricts a query to rows whose columns match one of the tuples.
func KeyIn(columns []string, tuples [][]any) sq.Sqlizer {
	if len(tuples) == 0 {
		return sq.Expr("1 = 0")
	}
	return keyTuples(columns, tuples)
}
