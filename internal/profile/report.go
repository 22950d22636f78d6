package profile

import "sort"

// Conflict reports a tree position that was observed with more than one
// structural shape across the corpus, a key that is a scalar in some
// documents and an object or list in others. Conflicts are recorded in the
// schema report rather than failing the run; the splitter works from
// whichever shapes are present.
type Conflict struct {
	// Path is the position in "$.Key.[]" notation.
	Path string `json:"path"`

	// Counts is a snapshot of every kind observed at the position.
	Counts map[Kind]int64 `json:"counts"`
}

// Conflicts walks the profile and returns every shape conflict, ordered by
// path. Null observations never count as a shape: a field that is sometimes
// null and sometimes an object is just optional.
func (n *Node) Conflicts() []Conflict {
	var out []Conflict
	n.collectConflicts("$", &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (n *Node) collectConflicts(path string, out *[]Conflict) {
	if n == nil {
		return
	}
	shapes := 0
	if n.ScalarCount() > 0 {
		shapes++
	}
	if n.Counts[KindObject] > 0 {
		shapes++
	}
	if n.Counts[KindList] > 0 {
		shapes++
	}
	if shapes >= 2 {
		counts := make(map[Kind]int64, len(n.Counts))
		for k, c := range n.Counts {
			counts[k] = c
		}
		*out = append(*out, Conflict{Path: path, Counts: counts})
	}

	keys := make([]string, 0, len(n.Fields))
	for k := range n.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		n.Fields[k].collectConflicts(path+"."+k, out)
	}
	n.Elem.collectConflicts(path+".[]", out)
}
