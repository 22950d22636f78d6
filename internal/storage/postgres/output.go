// Package postgres writes inferred tables to Postgres over a pgx pool.
//
// The generated DDL is SQLite-flavored, so this backend re-renders column
// types in Postgres vocabulary and implements idempotent inserts with
// ON CONFLICT ... DO NOTHING instead of OR IGNORE.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"jsonsql/internal/sqlgen"
	"jsonsql/internal/storage"
	"jsonsql/internal/tables"
)

type Output struct {
	pool *pgxpool.Pool
}

var _ storage.Output = (*Output)(nil)

func New(ctx context.Context, cfg storage.Config) (storage.Output, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Output{pool: pool}, nil
}

func (o *Output) Close() { o.pool.Close() }

func (o *Output) EnsureTables(ctx context.Context, p *tables.Plan, opts sqlgen.Options) error {
	for _, t := range sqlgen.EmitOrder(p) {
		if _, err := o.pool.Exec(ctx, createTableSQL(p, t, opts)); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// InsertRows performs a bulk INSERT.
//
// If the table declares a primary key, the INSERT is made idempotent using
// ON CONFLICT (<pk>) DO NOTHING. Duplicate rows in the same batch or in
// reprocessed captures would otherwise raise unique violations and fail the
// run. A table without a primary key has no uniqueness to defend and
// appends plainly.
func (o *Output) InsertRows(ctx context.Context, t *tables.Table, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	sql, args := buildInsertSQL(t, columns, rows)
	cmd, err := o.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", t.Name, err)
	}
	return cmd.RowsAffected(), nil
}

func (o *Output) DistinctDates(ctx context.Context, table, column string) ([]string, error) {
	q := fmt.Sprintf(
		"SELECT DISTINCT substr(%s, 1, 10) FROM %s WHERE %s IS NOT NULL ORDER BY 1",
		pgIdent(column), pgIdent(table), pgIdent(column),
	)
	rows, err := o.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// buildInsertSQL constructs a single INSERT statement and its args.
//
// Why this exists:
//   - It is pure and deterministic, so placeholder numbering and ON CONFLICT
//     behavior are unit-testable without a database.
func buildInsertSQL(t *tables.Table, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(t.Name))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("$%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	if pk := t.PrimaryKey(); pk != nil {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(pgIdent(pk.Name))
		b.WriteString(") DO NOTHING")
	}

	b.WriteString(";")
	return b.String(), args
}

func createTableSQL(p *tables.Plan, t *tables.Table, opts sqlgen.Options) string {
	parts := make([]string, 0, len(t.Columns))
	for i := range t.Columns {
		c := &t.Columns[i]
		part := pgIdent(c.Name) + " " + pgType(sqlgen.ColumnType(p, c, opts))
		if c.PrimaryKey {
			part += " PRIMARY KEY"
		}
		if c.NotNull {
			part += " NOT NULL"
		}
		if c.RefTable != "" {
			part += fmt.Sprintf(" REFERENCES %s(%s)", pgIdent(c.RefTable), pgIdent(c.RefColumn))
		}
		parts = append(parts, part)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", pgIdent(t.Name), strings.Join(parts, ", "))
}

func pgType(t sqlgen.ColType) string {
	switch t {
	case sqlgen.TypeInteger:
		return "BIGINT"
	case sqlgen.TypeReal:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
