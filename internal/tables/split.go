package tables

import (
	"sort"
	"strings"

	"jsonsql/internal/normalize"
	"jsonsql/internal/profile"
)

// Split factors the aggregate profile of a docs-document corpus into a table
// plan. A nil root yields an empty plan, not an error.
//
// Errors:
//   - *CollisionError when two source paths claim one table or column name
//     and extending the table name with more path segments cannot separate
//     them.
func Split(root *profile.Node, docs int64, opts Options) (*Plan, error) {
	if opts.RootName == "" {
		opts.RootName = normalize.DefaultRootName
	}
	if opts.Link == "" {
		opts.Link = LinkEmbedded
	}

	p := &Plan{
		Docs:      docs,
		Timestamp: opts.TimestampColumn,
		Link:      opts.Link,
		byPath:    make(map[string]*Table),
	}
	if root == nil {
		return p, nil
	}

	s := &splitter{
		opts:    opts,
		docs:    docs,
		plan:    p,
		parent:  make(map[*Table]*Table),
		colPath: make(map[*Table]map[string]string),
	}

	p.Root = s.addTable(opts.RootName, "$", 0)
	if err := s.flatten(root, p.Root, "$", ""); err != nil {
		return nil, err
	}
	if err := s.resolveNames(); err != nil {
		return nil, err
	}
	for _, t := range p.Tables {
		pickPrimaryKey(t)
	}
	if opts.TimestampColumn != "" {
		if err := s.addColumn(p.Root, Column{Name: opts.TimestampColumn, NotNull: true}); err != nil {
			return nil, err
		}
	}
	s.applyMinimal()
	if err := s.applyForeignKeys(); err != nil {
		return nil, err
	}
	sortTables(p.Tables)
	return p, nil
}

type splitter struct {
	opts    Options
	docs    int64
	plan    *Plan
	parent  map[*Table]*Table
	colPath map[*Table]map[string]string // column name -> first claiming path
}

func (s *splitter) addTable(name, path string, depth int) *Table {
	t := &Table{
		Name:     name,
		Path:     path,
		Depth:    depth,
		Emit:     true,
		segments: pathSegments(path),
	}
	t.nameLen = min(1, len(t.segments))
	s.plan.Tables = append(s.plan.Tables, t)
	s.plan.byPath[path] = t
	s.colPath[t] = make(map[string]string)
	return t
}

// flatten walks one table's field tree. n is the profile node whose fields
// become tbl's columns: the aggregate root for the root table, a list's
// element profile for extracted tables.
func (s *splitter) flatten(n *profile.Node, tbl *Table, path, prefix string) error {
	keys := make([]string, 0, len(n.Fields))
	for k := range n.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		f := n.Fields[k]
		name := prefix + k
		fpath := path + "." + k

		// Object observations always contribute their flattened fields,
		// even at a conflicted position that also has scalars or lists.
		if f.Counts[profile.KindObject] > 0 {
			if err := s.flatten(f, tbl, fpath, name+"_"); err != nil {
				return err
			}
		}

		switch {
		case f.Counts[profile.KindList] > 0:
			// One column either way: extracted tables leave a reference
			// column behind, scalar-only lists store an array literal. Any
			// scalar observations at the same position share the column.
			if f.Elem != nil && f.Elem.Counts[profile.KindObject] > 0 {
				child := s.addTable(k, fpath, tbl.Depth+1)
				s.parent[child] = tbl
				if err := s.flatten(f.Elem, child, fpath+".[]", ""); err != nil {
					return err
				}
				if err := s.addColumn(tbl, Column{
					Name:    name,
					Path:    fpath,
					Counts:  f.Counts,
					NotNull: s.alwaysPresent(f.Counts),
					Ref:     true,
				}); err != nil {
					return err
				}
				continue
			}
			if err := s.addColumn(tbl, Column{
				Name:    name,
				Path:    fpath,
				Counts:  f.Counts,
				NotNull: s.alwaysPresent(f.Counts),
			}); err != nil {
				return err
			}

		case f.ScalarCount() > 0 || f.Counts[profile.KindNull] > 0:
			if err := s.addColumn(tbl, Column{
				Name:    name,
				Path:    fpath,
				Counts:  f.Counts,
				NotNull: s.alwaysPresent(f.Counts),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *splitter) addColumn(t *Table, c Column) error {
	paths := s.colPath[t]
	if prev, ok := paths[c.Name]; ok {
		claims := []string{prev, c.Path}
		sort.Strings(claims)
		return &CollisionError{Name: c.Name, Paths: claims}
	}
	paths[c.Name] = c.Path
	t.Columns = append(t.Columns, c)
	return nil
}

// alwaysPresent implements the presence rule for NOT NULL: the column's
// value-bearing observations (scalars, plus lists, which always render)
// must account for every document in the corpus. Null and object
// observations produce no value at the column and keep it nullable.
func (s *splitter) alwaysPresent(counts map[profile.Kind]int64) bool {
	if s.docs == 0 {
		return false
	}
	var values int64
	for k, c := range counts {
		if k.IsScalar() || k == profile.KindList {
			values += c
		}
	}
	return values == s.docs
}

// resolveNames makes table names unique. Colliding tables re-derive their
// name from one more trailing path segment per round; a group none of whose
// members can grow any further is a hard failure.
func (s *splitter) resolveNames() error {
	for {
		groups := make(map[string][]*Table)
		for _, t := range s.plan.Tables {
			groups[t.Name] = append(groups[t.Name], t)
		}
		var colliding []string
		for name, g := range groups {
			if len(g) > 1 {
				colliding = append(colliding, name)
			}
		}
		if len(colliding) == 0 {
			return nil
		}
		sort.Strings(colliding)

		for _, name := range colliding {
			extended := false
			for _, t := range groups[name] {
				if t.nameLen < len(t.segments) {
					t.nameLen++
					t.Name = strings.Join(t.segments[len(t.segments)-t.nameLen:], "_")
					extended = true
				}
			}
			if !extended {
				paths := make([]string, 0, len(groups[name]))
				for _, t := range groups[name] {
					paths = append(paths, t.Path)
				}
				sort.Strings(paths)
				return &CollisionError{Name: name, Paths: paths}
			}
		}
	}
}

// pickPrimaryKey applies the identifier-name heuristic: among the table's
// identity-pattern columns that actually carried scalar values, generated
// keys win over natural ones, then shorter names, then lexicographic. No
// candidate means no declared primary key.
func pickPrimaryKey(t *Table) {
	var cands []string
	for i := range t.Columns {
		c := &t.Columns[i]
		if c.Ref || c.Path == "" {
			continue
		}
		if normalize.IsIdentityKey(c.Name) && scalarCount(c.Counts) > 0 {
			cands = append(cands, c.Name)
		}
	}
	if len(cands) == 0 {
		return
	}
	normalize.SortIdentityKeys(cands)
	for i := range t.Columns {
		if t.Columns[i].Name == cands[0] {
			t.Columns[i].PrimaryKey = true
			pk := t.Columns[i]
			copy(t.Columns[1:i+1], t.Columns[:i])
			t.Columns[0] = pk
			return
		}
	}
}

func scalarCount(counts map[profile.Kind]int64) int64 {
	var n int64
	for k, c := range counts {
		if k.IsScalar() {
			n += c
		}
	}
	return n
}

// applyMinimal restricts the plan when a column or table keep-list is set.
// Excluded child tables stay in the plan with Emit off so row traversal
// still reaches their descendants; the root keeps its primary key and
// timestamp column unconditionally.
func (s *splitter) applyMinimal() {
	if len(s.opts.Columns) == 0 && len(s.opts.Tables) == 0 {
		return
	}
	keepTable := make(map[string]bool, len(s.opts.Tables))
	for _, n := range s.opts.Tables {
		keepTable[n] = true
	}
	for _, t := range s.plan.Tables {
		if t == s.plan.Root {
			continue
		}
		t.Emit = keepTable[t.Name]
	}

	if len(s.opts.Columns) == 0 {
		return
	}
	keepCol := make(map[string]bool, len(s.opts.Columns))
	for _, n := range s.opts.Columns {
		keepCol[n] = true
	}
	root := s.plan.Root
	kept := make([]Column, 0, len(root.Columns))
	for _, c := range root.Columns {
		switch {
		case c.PrimaryKey, keepCol[c.Name]:
			kept = append(kept, c)
		case s.opts.TimestampColumn != "" && c.Name == s.opts.TimestampColumn:
			kept = append(kept, c)
		}
	}
	root.Columns = kept
}

// applyForeignKeys rewires parent/child linkage for LinkForeignKey: each
// emitted child whose emitted parent declares a primary key gains a
// "<Parent>_<Pk>" link column and the parent loses its reference column.
// Children that cannot be rewired keep the embedded linkage.
func (s *splitter) applyForeignKeys() error {
	if s.opts.Link != LinkForeignKey {
		return nil
	}
	for _, t := range s.plan.Tables {
		par := s.parent[t]
		if par == nil || !t.Emit || !par.Emit {
			continue
		}
		pk := par.PrimaryKey()
		if pk == nil {
			continue
		}
		for i := range par.Columns {
			c := par.Columns[i]
			if c.Ref && c.Path == t.Path && scalarCount(c.Counts) == 0 {
				par.Columns = append(par.Columns[:i], par.Columns[i+1:]...)
				delete(s.colPath[par], c.Name)
				break
			}
		}
		fk := Column{
			Name:      par.Name + "_" + pk.Name,
			RefTable:  par.Name,
			RefColumn: pk.Name,
			NotNull:   true,
		}
		if err := s.addColumn(t, fk); err != nil {
			return err
		}
		t.ForeignKey = fk.Name
	}
	return nil
}
