// Package sqlgen turns a table plan into SQL text and per-document insert
// batches. The generated dialect is SQLite's; other storage backends build
// their own statements from the same plan and the column classification
// here.
package sqlgen

import (
	"fmt"
	"strings"

	"jsonsql/internal/normalize"
	"jsonsql/internal/profile"
	"jsonsql/internal/tables"
)

// Options control SQL generation.
type Options struct {
	// InferTypes opts in to typing columns from their observed value kinds.
	// Off, every non-identifier column is TEXT, the baseline policy for a
	// corpus whose types disagree. On, uniformly integer columns become
	// INTEGER and numeric columns REAL; any inconsistency falls back to
	// TEXT. Identifier columns are INTEGER either way.
	InferTypes bool
}

// ColType is an inferred column type in SQLite vocabulary.
type ColType string

const (
	TypeInteger ColType = "INTEGER"
	TypeReal    ColType = "REAL"
	TypeText    ColType = "TEXT"
)

// ColumnType classifies one column of the plan. Foreign-key link columns
// take the type of the column they reference.
func ColumnType(p *tables.Plan, c *tables.Column, opts Options) ColType {
	if c.RefTable != "" {
		if parent := p.TableByName(c.RefTable); parent != nil {
			if target := parent.Column(c.RefColumn); target != nil {
				return ColumnType(p, target, opts)
			}
		}
		return TypeInteger
	}
	if normalize.IsIdentityKey(c.Name) {
		return TypeInteger
	}
	if !opts.InferTypes || c.Counts == nil {
		return TypeText
	}
	return inferType(c.Counts)
}

// inferType derives a type from observed kinds. Null observations carry no
// type information and are ignored; everything else must be uniform.
func inferType(counts map[profile.Kind]int64) ColType {
	if counts[profile.KindString] > 0 ||
		counts[profile.KindObject] > 0 ||
		counts[profile.KindList] > 0 {
		return TypeText
	}
	ints := counts[profile.KindInteger]
	floats := counts[profile.KindFloat]
	bools := counts[profile.KindBool]
	switch {
	case floats > 0 && bools == 0:
		return TypeReal
	case ints > 0 && floats == 0 && bools == 0:
		return TypeInteger
	case bools > 0 && ints == 0 && floats == 0:
		return TypeInteger
	}
	return TypeText
}

// CreateTableSQL renders one table's DDL.
func CreateTableSQL(p *tables.Plan, t *tables.Table, opts Options) string {
	parts := make([]string, 0, len(t.Columns))
	for i := range t.Columns {
		c := &t.Columns[i]
		part := sqlIdent(c.Name) + " " + string(ColumnType(p, c, opts))
		if c.PrimaryKey {
			part += " PRIMARY KEY"
		}
		if c.NotNull {
			part += " NOT NULL"
		}
		if c.RefTable != "" {
			part += fmt.Sprintf(" REFERENCES %s(%s)", sqlIdent(c.RefTable), sqlIdent(c.RefColumn))
		}
		parts = append(parts, part)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  "))
}

// EmitOrder lists the tables to create, in replay order: extracted tables
// before the tables that hold their ids, parents before children when the
// plan links by foreign key (the REFERENCES target has to exist first).
// Unselected and empty tables are left out. Backends that render their own
// dialect iterate this instead of Statements.
func EmitOrder(p *tables.Plan) []*tables.Table {
	order := p.Tables
	if p.Link == tables.LinkForeignKey {
		order = make([]*tables.Table, len(p.Tables))
		for i, t := range p.Tables {
			order[len(order)-1-i] = t
		}
	}
	out := make([]*tables.Table, 0, len(order))
	for _, t := range order {
		if !t.Emit || len(t.Columns) == 0 {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Statements renders DDL for every emitted table, in EmitOrder.
func Statements(p *tables.Plan, opts Options) []string {
	order := EmitOrder(p)
	out := make([]string, 0, len(order))
	for _, t := range order {
		out = append(out, CreateTableSQL(p, t, opts))
	}
	return out
}

// InsertSQL renders a multi-row idempotent insert with ? placeholders.
func InsertSQL(table string, columns []string, rowCount int) string {
	places := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"
	rows := make([]string, rowCount)
	for i := range rows {
		rows[i] = places
	}
	idents := make([]string, len(columns))
	for i, c := range columns {
		idents[i] = sqlIdent(c)
	}
	return fmt.Sprintf(
		"INSERT OR IGNORE INTO %s (%s) VALUES %s;",
		sqlIdent(table),
		strings.Join(idents, ", "),
		strings.Join(rows, ", "),
	)
}

// sqlIdent quotes an identifier for SQLite.
func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
