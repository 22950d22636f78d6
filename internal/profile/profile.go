// Package profile turns normalized documents into mergeable type profiles.
//
// A profile for one document mirrors the document's tree. Each position is a
// Node holding a multiset of observed kinds; object positions carry per-field
// child nodes, list positions carry a single element profile with every
// element folded in. Profiles from different documents merge by summing, so
// the corpus-wide schema is just the merge of all per-document profiles and
// does not depend on the order documents arrive in.
//
// Conflicting shapes at a position (a key that is a string in one document
// and an object in another) are not an error here. Both observations coexist
// in the node's counts and surface later as schema conflicts.
package profile

import (
	"fmt"
)

// Node is the profile of one tree position.
type Node struct {
	// Counts is the multiset of kinds observed at this position. The values
	// sum to the number of observations, which is how presence is accounted:
	// a field seen in 3 of 5 documents has a total of 3 at that position.
	Counts map[Kind]int64

	// Fields holds per-key child profiles for positions observed as an
	// object. An empty map records an object that never had keys.
	Fields map[string]*Node

	// Elem is the merged profile of all list elements seen at this position.
	// It is nil when every observed list was empty.
	Elem *Node
}

// Profile builds the profile of one normalized document.
func Profile(doc any) (*Node, error) {
	return observe(doc, "$")
}

func observe(v any, path string) (*Node, error) {
	n := &Node{Counts: make(map[Kind]int64, 1)}
	switch t := v.(type) {
	case map[string]any:
		n.Counts[KindObject] = 1
		n.Fields = make(map[string]*Node, len(t))
		for k, cv := range t {
			child, err := observe(cv, path+"."+k)
			if err != nil {
				return nil, err
			}
			n.Fields[k] = child
		}
	case []any:
		n.Counts[KindList] = 1
		for _, e := range t {
			child, err := observe(e, path+".[]")
			if err != nil {
				return nil, err
			}
			if n.Elem == nil {
				n.Elem = child
			} else {
				mergeInto(n.Elem, child)
			}
		}
	default:
		k := Classify(t)
		if k == KindInvalid {
			return nil, fmt.Errorf("profile: unsupported value type %T at %s", v, path)
		}
		n.Counts[k] = 1
	}
	return n, nil
}

// Total is the number of observations at this position, summed across kinds.
func (n *Node) Total() int64 {
	if n == nil {
		return 0
	}
	var sum int64
	for _, c := range n.Counts {
		sum += c
	}
	return sum
}

// ScalarCount sums the value-bearing scalar observations, excluding null.
func (n *Node) ScalarCount() int64 {
	if n == nil {
		return 0
	}
	var sum int64
	for k, c := range n.Counts {
		if k.IsScalar() {
			sum += c
		}
	}
	return sum
}
