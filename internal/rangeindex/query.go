package rangeindex

import (
	"fmt"
	"math"
	"slices"
	"sort"

	apperrors "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/errors"
)

// constraint is one non-trivial dimension of a completed filter.
type constraint struct {
	attr     Attr
	estimate int

	col    *sortedColumn
	r      Range
	lo, hi int

	cat    *categoricalColumn
	accept []bool
	values []int
}

func (c *constraint) materialize() Postings {
	if c.col != nil {
		ids := slices.Clone(Postings(c.col.order[c.lo:c.hi]))
		slices.Sort(ids)
		return ids
	}
	lists := make([]Postings, 0, len(c.values))
	for _, v := range c.values {
		if len(c.cat.postings[v]) > 0 {
			lists = append(lists, c.cat.postings[v])
		}
	}
	return unionPostings(lists)
}

func (c *constraint) match(id int32) bool {
	if c.col != nil {
		return c.r.Contains(c.col.values[id])
	}
	return c.accept[c.cat.values[id]]
}

// plan estimates every dimension of a completed filter and drops the ones
// every pair satisfies.
func (ix *Index) plan(full Filter) []constraint {
	var cs []constraint
	for _, a := range ContinuousAttrs {
		col := ix.cont[a]
		r := full.Ranges[a]
		lo, hi := col.span(r)
		if hi-lo == ix.n {
			continue
		}
		cs = append(cs, constraint{attr: a, estimate: hi - lo, col: col, r: r, lo: lo, hi: hi})
	}
	for _, a := range CategoricalAttrs {
		col := ix.cats[a]
		accept := make([]bool, len(col.postings))
		var values []int
		estimate := 0
		for _, v := range full.Sets[a] {
			if v < 0 || v >= len(accept) || accept[v] {
				continue
			}
			accept[v] = true
			values = append(values, v)
			estimate += len(col.postings[v])
		}
		if estimate == ix.n {
			continue
		}
		cs = append(cs, constraint{attr: a, estimate: estimate, cat: col, accept: accept, values: values})
	}
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].estimate < cs[j].estimate })
	return cs
}

// query evaluates a completed filter. The most selective dimension
// materializes the candidates and the others are checked row by row.
func (ix *Index) query(full Filter) Postings {
	cs := ix.plan(full)
	if len(cs) == 0 {
		all := make(Postings, ix.n)
		for i := range all {
			all[i] = int32(i)
		}
		return all
	}
	if cs[0].estimate == 0 {
		return Postings{}
	}
	candidates := cs[0].materialize()
	rest := cs[1:]
	kept := candidates[:0]
	for _, id := range candidates {
		ok := true
		for i := range rest {
			if !rest[i].match(id) {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, id)
		}
	}
	return kept
}

// QueryIndex returns the ascending ids of every pair satisfying all of f.
func (ix *Index) QueryIndex(f Filter) ([]int, error) {
	full, err := ix.Complete(f)
	if err != nil {
		return nil, err
	}
	ids := ix.query(full)
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out, nil
}

// Count returns len(QueryIndex(f)) without building the id list.
func (ix *Index) Count(f Filter) (int, error) {
	full, err := ix.Complete(f)
	if err != nil {
		return 0, err
	}
	return len(ix.query(full)), nil
}

// Histogram is an equal-width histogram. Edges has one more entry than Counts.
type Histogram struct {
	Edges  []float64 `json:"edges"`
	Counts []int     `json:"counts"`
}

func (h Histogram) Total() int {
	total := 0
	for _, c := range h.Counts {
		total += c
	}
	return total
}

func emptyHistogram(window Range, bins int) Histogram {
	h := Histogram{Edges: make([]float64, bins+1), Counts: make([]int, bins)}
	step := (window.Max - window.Min) / float64(bins)
	for i := range h.Edges {
		h.Edges[i] = window.Min + step*float64(i)
	}
	h.Edges[bins] = window.Max
	return h
}

// Bin returns the histogram bucket of v for an equal-width histogram over
// window, clamped to the first and last bucket.
func Bin(v float64, window Range, bins int) int {
	width := window.Max - window.Min
	if width <= 0 {
		return 0
	}
	b := int(math.Floor((v - window.Min) * float64(bins) / width))
	return max(0, min(b, bins-1))
}

// QueryDistribution bins the target attribute of the pairs matching f into
// an equal-width histogram over window. Only values inside window count; a
// range already set on target in f is honored too.
func (ix *Index) QueryDistribution(target Attr, f Filter, window Range, bins int) (Histogram, error) {
	col, ok := ix.cont[target]
	if !ok {
		return Histogram{}, fmt.Errorf("%w: %q is not continuous", apperrors.ErrUnknownAttribute, target)
	}
	if bins <= 0 {
		return Histogram{}, fmt.Errorf("%w: bins must be positive, got %d", apperrors.ErrInvalidFilter, bins)
	}
	if math.IsNaN(window.Min) || math.IsNaN(window.Max) || window.Min > window.Max {
		return Histogram{}, fmt.Errorf("%w: window [%g, %g]", apperrors.ErrInvalidFilter, window.Min, window.Max)
	}
	full, err := ix.Complete(f)
	if err != nil {
		return Histogram{}, err
	}
	h := emptyHistogram(window, bins)
	r, ok := full.Ranges[target].Intersect(window)
	if !ok {
		return h, nil
	}
	full.Ranges[target] = r
	for _, id := range ix.query(full) {
		h.Counts[Bin(col.values[id], window, bins)]++
	}
	return h, nil
}

// QueryMatrix cross-tabulates the pairs matching f by two categorical
// attributes. Rows and columns follow the order of the completed filter's
// value lists for row and col.
func (ix *Index) QueryMatrix(row, col Attr, f Filter) ([][]int, error) {
	rc, ok := ix.cats[row]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not categorical", apperrors.ErrUnknownAttribute, row)
	}
	cc, ok := ix.cats[col]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not categorical", apperrors.ErrUnknownAttribute, col)
	}
	full, err := ix.Complete(f)
	if err != nil {
		return nil, err
	}
	rowPos := positions(full.Sets[row], len(rc.postings))
	colPos := positions(full.Sets[col], len(cc.postings))
	out := make([][]int, len(full.Sets[row]))
	for i := range out {
		out[i] = make([]int, len(full.Sets[col]))
	}
	for _, id := range ix.query(full) {
		r, c := rowPos[rc.values[id]], colPos[cc.values[id]]
		if r >= 0 && c >= 0 {
			out[r][c]++
		}
	}
	return out, nil
}

// positions maps each domain value to its first position in values, or -1.
func positions(values []int, size int) []int {
	pos := make([]int, size)
	for i := range pos {
		pos[i] = -1
	}
	for i, v := range values {
		if v >= 0 && v < size && pos[v] < 0 {
			pos[v] = i
		}
	}
	return pos
}
