package sqlgen

import (
	"fmt"
	"strconv"
	"strings"

	"jsonsql/internal/normalize"
	"jsonsql/internal/tables"
)

// TableBatch is one table's rows for one document, positional and uniform:
// every row carries a value (or nil) for every column, in column order, so
// batches from many documents can share one multi-row insert.
type TableBatch struct {
	Table   *tables.Table
	Columns []string
	Rows    [][]any
}

// ValidationError reports a document whose row is missing a value the
// declared schema requires. The document is skipped and reported; the batch
// goes on.
type ValidationError struct {
	DocID  string
	Table  string
	Column string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("document %s: required column %s.%s has no value", e.DocID, e.Table, e.Column)
}

// EmitDocument produces the insert batches for one normalized document, in
// the plan's insert order. ts fills the root table's timestamp column when
// the plan declares one.
//
// Values are coerced toward their column type: integer-looking strings and
// booleans become integers in INTEGER columns, non-string scalars render to
// text in TEXT columns. A value that does not coerce is passed through
// untouched.
//
// Errors:
//   - *ValidationError when a primary key or NOT NULL column has no value;
//     none of the document's rows are returned.
func EmitDocument(docID string, doc map[string]any, p *tables.Plan, ts string, opts Options) ([]TableBatch, error) {
	split, err := p.SplitRows(doc)
	if err != nil {
		return nil, err
	}

	out := make([]TableBatch, 0, len(split))
	for _, tr := range split {
		t := tr.Table
		columns := make([]string, len(t.Columns))
		types := make([]ColType, len(t.Columns))
		for i := range t.Columns {
			columns[i] = t.Columns[i].Name
			types[i] = ColumnType(p, &t.Columns[i], opts)
		}

		rows := make([][]any, 0, len(tr.Rows))
		for _, rowMap := range tr.Rows {
			row := make([]any, len(columns))
			for i := range t.Columns {
				c := &t.Columns[i]
				v, ok := rowMap[c.Name]
				if t == p.Root && p.Timestamp != "" && c.Name == p.Timestamp {
					v, ok = ts, true
				}
				if !ok {
					v = nil
				}
				if v == nil && (c.PrimaryKey || c.NotNull) {
					return nil, &ValidationError{DocID: docID, Table: t.Name, Column: c.Name}
				}
				row[i] = coerce(v, types[i])
			}
			rows = append(rows, row)
		}
		out = append(out, TableBatch{Table: t, Columns: columns, Rows: rows})
	}
	return out, nil
}

func coerce(v any, typ ColType) any {
	if v == nil {
		return nil
	}
	switch typ {
	case TypeInteger:
		switch t := v.(type) {
		case int64:
			return t
		case bool:
			if t {
				return int64(1)
			}
			return int64(0)
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
				return i
			}
		}
	case TypeReal:
		switch t := v.(type) {
		case float64:
			return t
		case int64:
			return float64(t)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return f
			}
		}
	case TypeText:
		if s, ok := v.(string); ok {
			return s
		}
		return normalize.RenderScalar(v)
	}
	return v
}
