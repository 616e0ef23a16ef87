package geo

import "slices"

// itemsEqual compares two items, treating address lists as sets.
func itemsEqual(a, b Item) bool {
	if a.Location != b.Location || len(a.Addresses) != len(b.Addresses) {
		return false
	}

	left := slices.Clone(a.Addresses)
	right := slices.Clone(b.Addresses)

	slices.Sort(left)
	slices.Sort(right)

	return slices.Equal(left, right)
}

// Diff computes the difference between current and desired items.
// Returns items to add (in desired but not in current) and items to remove
// (in current but not in desired). A location whose addresses changed shows
// up in both.
func Diff(current, desired []Item) (toAdd, toRemove []Item) {
	for _, want := range desired {
		if !slices.ContainsFunc(current, func(have Item) bool { return itemsEqual(want, have) }) {
			toAdd = append(toAdd, want.Clone())
		}
	}

	for _, have := range current {
		if !slices.ContainsFunc(desired, func(want Item) bool { return itemsEqual(want, have) }) {
			toRemove = append(toRemove, have.Clone())
		}
	}

	return toAdd, toRemove
}
