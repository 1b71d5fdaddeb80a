package model

import "slices"

// State sets are represented as ordered slices of unique tags. Order is
// preserved across set operations so persisted documents stay stable.

func ContainsState(set []string, tag string) bool {
	return slices.Contains(set, tag)
}

// ContainsAll reports whether every tag in want is present in set.
func ContainsAll(set []string, want []string) bool {
	for _, tag := range want {
		if !slices.Contains(set, tag) {
			return false
		}
	}
	return true
}

// Intersects reports whether a and b share at least one tag.
func Intersects(a []string, b []string) bool {
	for _, tag := range b {
		if slices.Contains(a, tag) {
			return true
		}
	}
	return false
}

// IsSubset reports whether every tag in sub is present in super.
func IsSubset(sub []string, super []string) bool {
	return ContainsAll(super, sub)
}

// Union returns the tags of a followed by the tags of b not already present.
func Union(a []string, b []string) []string {
	out := slices.Clone(a)
	for _, tag := range b {
		if !slices.Contains(out, tag) {
			out = append(out, tag)
		}
	}
	return out
}

// Difference returns the tags of a that are not present in b.
func Difference(a []string, b []string) []string {
	out := make([]string, 0, len(a))
	for _, tag := range a {
		if !slices.Contains(b, tag) {
			out = append(out, tag)
		}
	}
	return out
}
