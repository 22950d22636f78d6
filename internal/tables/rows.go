package tables

import (
	"encoding/json"
	"fmt"
	"sort"

	"jsonsql/internal/normalize"
)

// TableRows pairs a table with the rows one document produced for it.
type TableRows struct {
	Table *Table
	Rows  []map[string]any
}

// SplitRows replays the schema traversal over one normalized document and
// returns its rows grouped per table, in insert order: extracted tables
// before the tables that embed their ids, or parents first when the plan
// links by foreign key. Tables the document produced no rows for are
// omitted. Values are keyed by column name; columns the document has no
// value for are simply absent.
func (p *Plan) SplitRows(doc map[string]any) ([]TableRows, error) {
	if p.Root == nil {
		return nil, fmt.Errorf("split rows: empty plan")
	}
	out := make(map[string][]map[string]any)
	if _, err := p.rowWalk(doc, "$", nil, out); err != nil {
		return nil, err
	}

	res := make([]TableRows, 0, len(out))
	for _, t := range p.Tables {
		if rows := out[t.Path]; len(rows) > 0 {
			res = append(res, TableRows{Table: t, Rows: rows})
		}
	}
	if p.Link == LinkForeignKey {
		for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
			res[i], res[j] = res[j], res[i]
		}
	}
	return res, nil
}

// rowWalk emits one row for the table at tablePath from obj, recursing into
// extracted child tables first so their ids are known. It returns the row's
// identity value for the caller's reference column.
func (p *Plan) rowWalk(obj map[string]any, tablePath string, parentID any, out map[string][]map[string]any) (any, error) {
	t := p.byPath[tablePath]
	if t == nil {
		return nil, fmt.Errorf("split rows: no table at %s", tablePath)
	}
	id, _ := normalize.ItemID(obj)

	row := make(map[string]any, len(obj))
	elemPath := tablePath
	if tablePath != "$" {
		elemPath += ".[]"
	}
	if err := p.flattenRow(obj, elemPath, "", row, id, out); err != nil {
		return nil, err
	}
	if t.ForeignKey != "" && parentID != nil {
		row[t.ForeignKey] = parentID
	}
	if t.Emit {
		out[tablePath] = append(out[tablePath], row)
	}
	return id, nil
}

func (p *Plan) flattenRow(obj map[string]any, path, prefix string, row map[string]any, ownerID any, out map[string][]map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := prefix + k
		fpath := path + "." + k

		switch val := obj[k].(type) {
		case map[string]any:
			if err := p.flattenRow(val, fpath, name+"_", row, ownerID, out); err != nil {
				return err
			}
		case []any:
			if p.byPath[fpath] != nil {
				// Extracted table: object elements become child rows, their
				// ids (and any stray scalar elements) become the reference
				// literal on this row.
				refs := make([]any, 0, len(val))
				for _, e := range val {
					if m, ok := e.(map[string]any); ok {
						cid, err := p.rowWalk(m, fpath, ownerID, out)
						if err != nil {
							return err
						}
						refs = append(refs, cid)
					} else {
						refs = append(refs, e)
					}
				}
				lit, err := json.Marshal(refs)
				if err != nil {
					return fmt.Errorf("render reference list at %s: %w", fpath, err)
				}
				row[name] = string(lit)
				continue
			}
			lit, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("render list at %s: %w", fpath, err)
			}
			row[name] = string(lit)
		default:
			row[name] = val
		}
	}
	return nil
}
