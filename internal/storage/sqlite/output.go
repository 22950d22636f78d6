// Package sqlite is the default output backend. The generated DDL and
// inserts are already in SQLite's dialect, so this backend executes them
// verbatim.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"jsonsql/internal/sqlgen"
	"jsonsql/internal/storage"
	"jsonsql/internal/tables"
)

type Output struct {
	db *sql.DB
}

var _ storage.Output = (*Output)(nil)

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Output, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Output{db: db}, nil
}

func (o *Output) Close() { _ = o.db.Close() }

func (o *Output) EnsureTables(ctx context.Context, p *tables.Plan, opts sqlgen.Options) error {
	for _, stmt := range sqlgen.Statements(p, opts) {
		if _, err := o.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// InsertRows performs a multi-row INSERT OR IGNORE. Idempotency rides on the
// table's primary key; a table without one simply appends.
func (o *Output) InsertRows(ctx context.Context, t *tables.Table, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(rows)*len(columns))
	for _, row := range rows {
		args = append(args, row...)
	}

	res, err := o.db.ExecContext(ctx, sqlgen.InsertSQL(t.Name, columns, len(rows)), args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", t.Name, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (o *Output) DistinctDates(ctx context.Context, table, column string) ([]string, error) {
	q := fmt.Sprintf(
		"SELECT DISTINCT substr(%s, 1, 10) FROM %s WHERE %s IS NOT NULL ORDER BY 1",
		sqlIdent(column), sqlIdent(table), sqlIdent(column),
	)
	rows, err := o.db.QueryContext(ctx, q)
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

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
