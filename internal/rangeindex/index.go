package rangeindex

import (
	"fmt"
	"math"
	"slices"
	"sort"

	apperrors "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/errors"
)

// Columns holds one value per pair for every attribute, indexed by pair id.
type Columns struct {
	LabelAspectRatio   []float64
	LabelSize          []float64
	PredictSize        []float64
	PredictAspectRatio []float64
	Confidence         []float64

	Predict        []int
	Label          []int
	Types          []int
	SizeComparison []int
	Direction      []int
}

func (c *Columns) floats(a Attr) []float64 {
	switch a {
	case LabelAspectRatio:
		return c.LabelAspectRatio
	case LabelSize:
		return c.LabelSize
	case PredictSize:
		return c.PredictSize
	case PredictAspectRatio:
		return c.PredictAspectRatio
	case Confidence:
		return c.Confidence
	}
	return nil
}

func (c *Columns) ints(a Attr) []int {
	switch a {
	case Predict:
		return c.Predict
	case Label:
		return c.Label
	case Types:
		return c.Types
	case SizeComparison:
		return c.SizeComparison
	case Direction:
		return c.Direction
	}
	return nil
}

// Domains fixes the value domains of the categorical dimensions.
// Categories counts the classes including background.
type Domains struct {
	Categories int
}

func (d Domains) size(a Attr) int {
	switch a {
	case Predict, Label:
		return d.Categories
	case Types:
		return NumTypes
	case SizeComparison:
		return NumSizeComparisons
	case Direction:
		return NumDirections
	}
	return 0
}

type sortedColumn struct {
	values []float64
	// order lists pair ids by ascending value; sorted[i] = values[order[i]].
	order  []int32
	sorted []float64
}

func newSortedColumn(values []float64) *sortedColumn {
	order := make([]int32, len(values))
	for i := range order {
		order[i] = int32(i)
	}
	sort.SliceStable(order, func(i, j int) bool { return values[order[i]] < values[order[j]] })
	sorted := make([]float64, len(values))
	for i, id := range order {
		sorted[i] = values[id]
	}
	return &sortedColumn{values: values, order: order, sorted: sorted}
}

// span returns the positions in order whose values fall inside r.
func (s *sortedColumn) span(r Range) (lo, hi int) {
	lo = sort.SearchFloat64s(s.sorted, r.Min)
	hi = sort.Search(len(s.sorted), func(i int) bool { return s.sorted[i] > r.Max })
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

func (s *sortedColumn) observed() Range {
	if len(s.sorted) == 0 {
		return Range{}
	}
	return Range{Min: s.sorted[0], Max: s.sorted[len(s.sorted)-1]}
}

type categoricalColumn struct {
	values   []int32
	postings []Postings
}

// Index is an immutable multi-dimensional index over one pair table. It is
// safe for concurrent readers.
type Index struct {
	n       int
	domains Domains
	cont    map[Attr]*sortedColumn
	cats    map[Attr]*categoricalColumn
	full    Filter
}

// Build lays out the columns and their sorted orders and postings lists.
func Build(cols Columns, domains Domains) (*Index, error) {
	if domains.Categories <= 0 {
		return nil, fmt.Errorf("%w: no categories", apperrors.ErrInvalidInput)
	}
	n := len(cols.Types)
	ix := &Index{
		n:       n,
		domains: domains,
		cont:    make(map[Attr]*sortedColumn, len(ContinuousAttrs)),
		cats:    make(map[Attr]*categoricalColumn, len(CategoricalAttrs)),
	}
	for _, a := range ContinuousAttrs {
		values := cols.floats(a)
		if len(values) != n {
			return nil, fmt.Errorf("%w: column %s has %d rows, want %d", apperrors.ErrInvalidInput, a, len(values), n)
		}
		for id, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: column %s row %d is not finite", apperrors.ErrInvalidInput, a, id)
			}
		}
		ix.cont[a] = newSortedColumn(values)
	}
	for _, a := range CategoricalAttrs {
		values := cols.ints(a)
		if len(values) != n {
			return nil, fmt.Errorf("%w: column %s has %d rows, want %d", apperrors.ErrInvalidInput, a, len(values), n)
		}
		size := domains.size(a)
		col := &categoricalColumn{values: make([]int32, n), postings: make([]Postings, size)}
		for id, v := range values {
			if v < 0 || v >= size {
				return nil, fmt.Errorf("%w: column %s row %d value %d outside [0, %d)", apperrors.ErrInvalidInput, a, id, v, size)
			}
			col.values[id] = int32(v)
			col.postings[v] = append(col.postings[v], int32(id))
		}
		ix.cats[a] = col
	}
	ix.full = ix.fullDomain()
	return ix, nil
}

// Len is the number of indexed pairs.
func (ix *Index) Len() int {
	return ix.n
}

func (ix *Index) Domains() Domains {
	return ix.domains
}

// FullDomain returns the filter accepting every pair. Continuous ranges span
// [0, 1] widened to any observed value outside it.
func (ix *Index) FullDomain() Filter {
	return ix.full.Clone()
}

func (ix *Index) fullDomain() Filter {
	f := NewFilter()
	for _, a := range ContinuousAttrs {
		obs := ix.cont[a].observed()
		f.Ranges[a] = Range{Min: min(0, obs.Min), Max: max(1, obs.Max)}
	}
	for _, a := range CategoricalAttrs {
		size := ix.domains.size(a)
		values := make([]int, size)
		for v := range values {
			values[v] = v
		}
		f.Sets[a] = values
	}
	return f
}

// Complete overlays f on the full domain and validates every entry.
func (ix *Index) Complete(f Filter) (Filter, error) {
	out := ix.full.Clone()
	for a, r := range f.Ranges {
		if !a.Continuous() {
			if a.Categorical() {
				return Filter{}, fmt.Errorf("%w: %s takes a value list", apperrors.ErrInvalidFilter, a)
			}
			return Filter{}, fmt.Errorf("%w: %q", apperrors.ErrUnknownAttribute, a)
		}
		if math.IsNaN(r.Min) || math.IsNaN(r.Max) || r.Min > r.Max {
			return Filter{}, fmt.Errorf("%w: %s range [%g, %g]", apperrors.ErrInvalidFilter, a, r.Min, r.Max)
		}
		out.Ranges[a] = r
	}
	for a, v := range f.Sets {
		if !a.Categorical() {
			if a.Continuous() {
				return Filter{}, fmt.Errorf("%w: %s takes a range", apperrors.ErrInvalidFilter, a)
			}
			return Filter{}, fmt.Errorf("%w: %q", apperrors.ErrUnknownAttribute, a)
		}
		out.Sets[a] = slices.Clone(v)
	}
	return out, nil
}

// Floats returns the column of a continuous attribute. Callers must not
// modify it.
func (ix *Index) Floats(a Attr) ([]float64, error) {
	col, ok := ix.cont[a]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not continuous", apperrors.ErrUnknownAttribute, a)
	}
	return col.values, nil
}

// Value returns the categorical value of pair id.
func (ix *Index) Value(a Attr, id int) (int, error) {
	col, ok := ix.cats[a]
	if !ok {
		return 0, fmt.Errorf("%w: %q is not categorical", apperrors.ErrUnknownAttribute, a)
	}
	if id < 0 || id >= ix.n {
		return 0, fmt.Errorf("%w: pair %d", apperrors.ErrPairNotFound, id)
	}
	return int(col.values[id]), nil
}

// Ints returns the column of a categorical attribute. Callers must not
// modify it.
func (ix *Index) Ints(a Attr) ([]int32, error) {
	col, ok := ix.cats[a]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not categorical", apperrors.ErrUnknownAttribute, a)
	}
	return col.values, nil
}
