package profile

// Merge combines two profiles into a new one that shares no state with
// either input. The operation is associative and commutative: counts sum
// key-wise, object fields union key-wise, and list element profiles merge
// recursively. Either input may be nil.
func Merge(a, b *Node) *Node {
	if a == nil {
		return clone(b)
	}
	out := clone(a)
	mergeInto(out, clone(b))
	return out
}

// mergeInto folds src into dst. src must not be used afterwards: dst may
// adopt src's subtrees instead of copying them.
func mergeInto(dst, src *Node) {
	if src == nil {
		return
	}
	for k, c := range src.Counts {
		dst.Counts[k] += c
	}
	if src.Fields != nil {
		if dst.Fields == nil {
			dst.Fields = make(map[string]*Node, len(src.Fields))
		}
		for k, sn := range src.Fields {
			if dn, ok := dst.Fields[k]; ok {
				mergeInto(dn, sn)
			} else {
				dst.Fields[k] = sn
			}
		}
	}
	if src.Elem != nil {
		if dst.Elem == nil {
			dst.Elem = src.Elem
		} else {
			mergeInto(dst.Elem, src.Elem)
		}
	}
}

func clone(n *Node) *Node {
	if n == nil {
		return nil
	}
	out := &Node{Counts: make(map[Kind]int64, len(n.Counts))}
	for k, c := range n.Counts {
		out.Counts[k] = c
	}
	if n.Fields != nil {
		out.Fields = make(map[string]*Node, len(n.Fields))
		for k, f := range n.Fields {
			out.Fields[k] = clone(f)
		}
	}
	out.Elem = clone(n.Elem)
	return out
}
