// Package geo merges one location's address into the geo routing items of a
// shared DNS record.
//
// # Ownership
//
// Every controller instance owns exactly one location tag. Merge replaces the
// item for that tag and returns every other item unchanged, so instances in
// different locations can write the same record in any order and converge on
// the same item set:
//
//	Merge(Merge(items, "eu", a), "us", b)  ==  Merge(Merge(items, "us", b), "eu", a)
//
// Items for the same location are collapsed: stale duplicates left behind by
// malformed remote state are all dropped before the fresh item is appended.
package geo
