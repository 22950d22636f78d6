// Package tables factors an aggregate schema profile into relational table
// schemas, and replays the identical traversal over single documents to
// produce rows for those tables.
//
// Every list position whose elements were observed as objects becomes its
// own table, recursively. Object positions flatten into the enclosing
// table's column namespace with "_"-joined names. The position a table was
// extracted from keeps a reference column in the parent that carries the
// extracted rows' ids as a JSON array literal; the optional foreign-key link
// mode moves that linkage onto the child instead.
package tables

import (
	"fmt"
	"sort"
	"strings"

	"jsonsql/internal/profile"
)

// LinkMode selects how extracted tables relate to the table they came from.
type LinkMode string

const (
	// LinkEmbedded keeps the id list on the parent row, serialized as a
	// JSON array literal in the reference column. No constraint is
	// declared; children carry nothing.
	LinkEmbedded LinkMode = "embedded"

	// LinkForeignKey puts a REFERENCES column on each child table pointing
	// at its parent's primary key and drops the parent's reference column.
	// Tables whose parent has no primary key stay embedded.
	LinkForeignKey LinkMode = "fk"
)

// Options configure a split.
type Options struct {
	// RootName is the root table's name and must match the identity context
	// the documents were normalized under. Defaults to "Listings".
	RootName string

	// Link selects the parent/child linkage. Defaults to LinkEmbedded.
	Link LinkMode

	// Columns, when non-empty, switches the plan to minimal mode: the root
	// table keeps only these columns plus its primary key and the timestamp
	// column. Child table columns are never filtered.
	Columns []string

	// Tables, in minimal mode, lists the child tables to keep. Unlisted
	// child tables stay in the plan for traversal but emit no DDL or rows.
	Tables []string

	// TimestampColumn, when set, appends a text column of that name to the
	// root table. Row emission fills it with the raw document's timestamp.
	TimestampColumn string
}

// Column is one column of an inferred table schema.
type Column struct {
	// Name is the flattened SQL column name.
	Name string

	// Path is the source position in "$.Key.[]" notation. Empty for
	// synthetic columns (the timestamp column, foreign-key links).
	Path string

	// Counts is the kind multiset observed at Path. Nil for synthetic
	// columns.
	Counts map[profile.Kind]int64

	// NotNull is set when every document in the corpus produced a value for
	// this column.
	NotNull bool

	// PrimaryKey marks the table's one declared primary key, if any.
	PrimaryKey bool

	// Ref marks the reference column left behind by an extracted child
	// table. Its row value is the JSON array literal of the child ids.
	Ref bool

	// RefTable/RefColumn name the referenced parent column for foreign-key
	// link columns. Both empty otherwise.
	RefTable  string
	RefColumn string
}

// Table is one inferred table schema.
type Table struct {
	// Name is the SQL table name, unique within the plan.
	Name string

	// Path is the list position the table was extracted from, "$" for the
	// root table.
	Path string

	// Depth counts the list boundaries above this table. The root is 0.
	Depth int

	// Columns in declaration order: primary key first, then source order,
	// synthetic columns last.
	Columns []Column

	// Emit is false for tables excluded by minimal mode. They keep their
	// place in the traversal but produce no DDL and no rows.
	Emit bool

	// ForeignKey is the name of this table's link column in foreign-key
	// mode, empty otherwise.
	ForeignKey string

	segments []string // non-list path segments, for name disambiguation
	nameLen  int      // how many trailing segments the current Name uses
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// PrimaryKey returns the table's primary key column, or nil.
func (t *Table) PrimaryKey() *Column {
	for i := range t.Columns {
		if t.Columns[i].PrimaryKey {
			return &t.Columns[i]
		}
	}
	return nil
}

// Plan is the full set of inferred tables for one corpus.
type Plan struct {
	// Tables holds every table deepest-first, so iterating in order visits
	// referenced-by-value tables before the tables that embed their ids.
	// Foreign-key mode consumers iterate in reverse.
	Tables []*Table

	// Root is the root table. Nil only for an empty corpus.
	Root *Table

	// Docs is the corpus size the presence accounting was computed against.
	Docs int64

	// Timestamp is the root timestamp column name, "" when not configured.
	Timestamp string

	// Link records the linkage mode the plan was built with.
	Link LinkMode

	byPath map[string]*Table
}

// TableByName returns the named table, or nil.
func (p *Plan) TableByName(name string) *Table {
	for _, t := range p.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// CollisionError reports a table or column name claimed by more than one
// source path after disambiguation. The split fails loudly rather than let
// one path silently shadow another.
type CollisionError struct {
	Name  string
	Paths []string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("name %q claimed by distinct paths %s", e.Name, strings.Join(e.Paths, ", "))
}

// pathSegments returns the non-list segments of a "$.Key.[]" path.
func pathSegments(path string) []string {
	parts := strings.Split(path, ".")
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "$" || p == "[]" || p == "" {
			continue
		}
		segs = append(segs, p)
	}
	return segs
}

func sortTables(ts []*Table) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].Depth != ts[j].Depth {
			return ts[i].Depth > ts[j].Depth
		}
		return ts[i].Path < ts[j].Path
	})
}
