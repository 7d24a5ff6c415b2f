package rangeindex

import (
	"slices"
)

// Postings is an ascending list of pair ids.
type Postings []int32

// unionPostings merges disjoint lists into one ascending list.
func unionPostings(lists []Postings) Postings {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	switch len(lists) {
	case 0:
		return Postings{}
	case 1:
		return slices.Clone(lists[0])
	case 2:
		return mergeTwo(lists[0], lists[1], total)
	}
	out := make(Postings, 0, total)
	for _, l := range lists {
		out = append(out, l...)
	}
	slices.Sort(out)
	return out
}

func mergeTwo(a, b Postings, total int) Postings {
	out := make(Postings, 0, total)
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] < b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
