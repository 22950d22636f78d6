// Package mssql writes inferred tables to Microsoft SQL Server.
//
// Dialect notes:
//   - CREATE TABLE IF NOT EXISTS does not exist; creation is wrapped in an
//     OBJECT_ID guard to stay idempotent.
//   - Text columns become NVARCHAR(MAX), except primary keys, which need an
//     indexable length and use NVARCHAR(450).
//   - Idempotent inserts use INSERT ... SELECT ... WHERE NOT EXISTS keyed by
//     the primary key.
//   - Statements are chunked to respect SQL Server's 2100 parameter limit.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"jsonsql/internal/sqlgen"
	"jsonsql/internal/storage"
	"jsonsql/internal/tables"
)

type Output struct {
	db *sql.DB
}

var _ storage.Output = (*Output)(nil)

func init() {
	storage.Register("mssql", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Output, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for bursty batch loads.
	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(64)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Output{db: db}, nil
}

func (o *Output) Close() { _ = o.db.Close() }

func (o *Output) EnsureTables(ctx context.Context, p *tables.Plan, opts sqlgen.Options) error {
	for _, t := range sqlgen.EmitOrder(p) {
		if _, err := o.db.ExecContext(ctx, createTableSQL(p, t, opts)); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// InsertRows inserts one batch, chunked below the parameter limit. Tables
// with a primary key get NOT EXISTS dedupe per chunk; tables without one
// append plainly.
func (o *Output) InsertRows(ctx context.Context, t *tables.Table, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	maxRows := 2000 / max(1, len(columns))
	if maxRows < 1 {
		maxRows = 1
	}

	pk := t.PrimaryKey()

	var total int64
	for start := 0; start < len(rows); start += maxRows {
		end := start + maxRows
		if end > len(rows) {
			end = len(rows)
		}
		part := rows[start:end]

		var q string
		var args []any
		if pk != nil {
			q, args = buildInsertNotExistsSQL(t.Name, columns, part, pk.Name)
		} else {
			q, args = buildInsertSQL(t.Name, columns, part)
		}

		res, err := o.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("mssql: insert into %s: %w", t.Name, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (o *Output) DistinctDates(ctx context.Context, table, column string) ([]string, error) {
	q := fmt.Sprintf(
		"SELECT DISTINCT SUBSTRING(%s, 1, 10) FROM %s WHERE %s IS NOT NULL ORDER BY 1",
		mssqlIdent(column), mssqlIdent(table), mssqlIdent(column),
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

func createTableSQL(p *tables.Plan, t *tables.Table, opts sqlgen.Options) string {
	parts := make([]string, 0, len(t.Columns))
	for i := range t.Columns {
		c := &t.Columns[i]
		part := mssqlIdent(c.Name) + " " + mssqlType(sqlgen.ColumnType(p, c, opts), c.PrimaryKey)
		if c.PrimaryKey {
			part += " PRIMARY KEY"
		}
		if c.NotNull {
			part += " NOT NULL"
		}
		if c.RefTable != "" {
			part += fmt.Sprintf(" REFERENCES %s(%s)", mssqlIdent(c.RefTable), mssqlIdent(c.RefColumn))
		}
		parts = append(parts, part)
	}
	return wrapCreateIfMissing(t.Name, strings.Join(parts, ", "))
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		tableName,
		mssqlIdent(tableName),
		innerDefs,
	)
}

func mssqlType(t sqlgen.ColType, primaryKey bool) string {
	switch t {
	case sqlgen.TypeInteger:
		return "BIGINT"
	case sqlgen.TypeReal:
		return "FLOAT"
	default:
		if primaryKey {
			// NVARCHAR(MAX) cannot back a primary key index.
			return "NVARCHAR(450)"
		}
		return "NVARCHAR(MAX)"
	}
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
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
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

// buildInsertNotExistsSQL materializes incoming rows as a derived table V
// via VALUES, then inserts only those whose key is not already present.
func buildInsertNotExistsSQL(table string, columns []string, rows [][]any, keyColumn string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("v.")
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(" FROM (VALUES ")

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
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(") AS v(")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" t WHERE t.")
	b.WriteString(mssqlIdent(keyColumn))
	b.WriteString(" = v.")
	b.WriteString(mssqlIdent(keyColumn))
	b.WriteString(")")

	return b.String(), args
}

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}
