package scene

import (
	"cmp"
	"slices"
)

// Delta partitions identities into those that appeared, persisted, or vanished.
type Delta[K cmp.Ordered] struct {
	Added   []K
	Kept    []K
	Removed []K
}

// Diff compares the identities currently bound against the next set.
// Each result slice is sorted; duplicate entries in next are reported once.
//
// Postcondition: Added ∪ Kept equals the distinct entries of next, and
// Removed is exactly the bound keys missing from next.
func Diff[K cmp.Ordered, V any](bound map[K]V, next []K) Delta[K] {
	var d Delta[K]
	seen := make(map[K]struct{}, len(next))
	for _, k := range next {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if _, ok := bound[k]; ok {
			d.Kept = append(d.Kept, k)
		} else {
			d.Added = append(d.Added, k)
		}
	}
	for k := range bound {
		if _, ok := seen[k]; !ok {
			d.Removed = append(d.Removed, k)
		}
	}
	slices.Sort(d.Added)
	slices.Sort(d.Kept)
	slices.Sort(d.Removed)
	return d
}
