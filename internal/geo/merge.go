package geo

import (
	"slices"
	"sort"
	"strings"
)

// Item is one location's entry in a geo routing policy.
type Item struct {
	Location  string
	Addresses []string
}

// Clone returns a deep copy of the item.
func (i Item) Clone() Item {
	return Item{
		Location:  i.Location,
		Addresses: slices.Clone(i.Addresses),
	}
}

// String renders the item as location=[a,b].
func (i Item) String() string {
	return i.Location + "=[" + strings.Join(i.Addresses, ",") + "]"
}

// Merge returns existing with every item for location removed and a single
// item {location, [address]} appended. Other items are copied unchanged and
// keep their relative order. existing is not modified.
func Merge(existing []Item, location, address string) []Item {
	merged := make([]Item, 0, len(existing)+1)

	for _, item := range existing {
		if item.Location == location {
			continue
		}

		merged = append(merged, item.Clone())
	}

	return append(merged, Item{Location: location, Addresses: []string{address}})
}

// Find returns the item for location, if present.
func Find(items []Item, location string) (Item, bool) {
	for _, item := range items {
		if item.Location == location {
			return item, true
		}
	}

	return Item{}, false
}

// Locations returns the sorted location tags present in items.
func Locations(items []Item) []string {
	locations := make([]string, 0, len(items))
	for _, item := range items {
		locations = append(locations, item.Location)
	}

	sort.Strings(locations)

	return slices.Compact(locations)
}

// Equal reports whether a and b hold the same items regardless of order.
// Address lists are compared as sets.
func Equal(a, b []Item) bool {
	if len(a) != len(b) {
		return false
	}

	left := normalize(a)
	right := normalize(b)

	for idx := range left {
		if left[idx].Location != right[idx].Location {
			return false
		}

		if !slices.Equal(left[idx].Addresses, right[idx].Addresses) {
			return false
		}
	}

	return true
}

// Describe renders items in location order, for log lines.
func Describe(items []Item) string {
	parts := make([]string, 0, len(items))
	for _, item := range normalize(items) {
		parts = append(parts, item.String())
	}

	return strings.Join(parts, " ")
}

func normalize(items []Item) []Item {
	out := make([]Item, 0, len(items))

	for _, item := range items {
		clone := item.Clone()
		sort.Strings(clone.Addresses)
		out = append(out, clone)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Location < out[j].Location
	})

	return out
}
