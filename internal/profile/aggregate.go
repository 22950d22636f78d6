package profile

// Aggregate accumulates per-document profiles into a corpus-wide schema
// profile. The zero value is an empty corpus and is ready to use. Aggregate
// is not safe for concurrent use; concurrent loaders each fill their own and
// fold them together with Combine.
type Aggregate struct {
	// Root is the merged profile of every document added so far. Nil for an
	// empty corpus.
	Root *Node

	// Docs is the number of documents folded in.
	Docs int64
}

// Add profiles doc and folds it into the aggregate.
func (a *Aggregate) Add(doc any) error {
	n, err := Profile(doc)
	if err != nil {
		return err
	}
	if a.Root == nil {
		a.Root = n
	} else {
		mergeInto(a.Root, n)
	}
	a.Docs++
	return nil
}

// Combine folds other into a. other must not be used afterwards.
func (a *Aggregate) Combine(other *Aggregate) {
	if other == nil || other.Root == nil {
		if other != nil {
			a.Docs += other.Docs
		}
		return
	}
	if a.Root == nil {
		a.Root = other.Root
	} else {
		mergeInto(a.Root, other.Root)
	}
	a.Docs += other.Docs
}
