package rangeindex

import (
	"encoding/json"
	"fmt"
	"sort"

	apperrors "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/errors"
)

// Range is an inclusive [Min, Max] interval.
type Range struct {
	Min float64
	Max float64
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Intersect returns the overlap of r and o and whether it is non-empty.
func (r Range) Intersect(o Range) (Range, bool) {
	out := Range{Min: max(r.Min, o.Min), Max: min(r.Max, o.Max)}
	return out, out.Min <= out.Max
}

func (r Range) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{r.Min, r.Max})
}

func (r *Range) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: range must be [min, max]: %v", apperrors.ErrInvalidFilter, err)
	}
	r.Min, r.Max = pair[0], pair[1]
	return nil
}

// Filter constrains continuous attributes to ranges and categorical
// attributes to accepted value lists. A dimension without an entry is
// unconstrained once the filter is completed against the full domain.
// Value lists keep their order; QueryMatrix reports cells in that order.
type Filter struct {
	Ranges map[Attr]Range
	Sets   map[Attr][]int
}

func NewFilter() Filter {
	return Filter{Ranges: make(map[Attr]Range), Sets: make(map[Attr][]int)}
}

func (f Filter) Clone() Filter {
	out := Filter{
		Ranges: make(map[Attr]Range, len(f.Ranges)),
		Sets:   make(map[Attr][]int, len(f.Sets)),
	}
	for a, r := range f.Ranges {
		out.Ranges[a] = r
	}
	for a, v := range f.Sets {
		out.Sets[a] = append([]int(nil), v...)
	}
	return out
}

// WithRange returns a copy of f with a's range replaced.
func (f Filter) WithRange(a Attr, r Range) Filter {
	out := f.Clone()
	out.Ranges[a] = r
	return out
}

// WithValues returns a copy of f with a's accepted values replaced.
func (f Filter) WithValues(a Attr, values ...int) Filter {
	out := f.Clone()
	out.Sets[a] = append([]int(nil), values...)
	return out
}

// Merge returns a copy of f overlaid with every entry of o.
func (f Filter) Merge(o Filter) Filter {
	out := f.Clone()
	for a, r := range o.Ranges {
		out.Ranges[a] = r
	}
	for a, v := range o.Sets {
		out.Sets[a] = append([]int(nil), v...)
	}
	return out
}

// MarshalJSON writes the flat wire form {"label_size": [0, 1], "types": [1, 2]}
// with keys sorted.
func (f Filter) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(f.Ranges)+len(f.Sets))
	for a, r := range f.Ranges {
		flat[string(a)] = r
	}
	for a, v := range f.Sets {
		if v == nil {
			v = []int{}
		}
		flat[string(a)] = v
	}
	return json.Marshal(flat)
}

// UnmarshalJSON reads the flat wire form. Unknown keys are dropped.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidFilter, err)
	}
	*f = NewFilter()
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		a := Attr(k)
		switch {
		case a.Continuous():
			var r Range
			if err := json.Unmarshal(flat[k], &r); err != nil {
				return fmt.Errorf("attribute %s: %w", k, err)
			}
			f.Ranges[a] = r
		case a.Categorical():
			var v []int
			if err := json.Unmarshal(flat[k], &v); err != nil {
				return fmt.Errorf("%w: attribute %s: %v", apperrors.ErrInvalidFilter, k, err)
			}
			f.Sets[a] = v
		}
	}
	return nil
}
