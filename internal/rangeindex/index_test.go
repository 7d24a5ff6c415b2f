package rangeindex

import (
	"encoding/json"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/errors"
)

const testCategories = 4

func randomColumns(seed uint64, n int) Columns {
	r := rand.New(rand.NewPCG(seed, 7))
	c := Columns{}
	for i := 0; i < n; i++ {
		c.LabelAspectRatio = append(c.LabelAspectRatio, r.Float64())
		c.LabelSize = append(c.LabelSize, r.Float64()*r.Float64())
		c.PredictSize = append(c.PredictSize, r.Float64()*r.Float64())
		c.PredictAspectRatio = append(c.PredictAspectRatio, r.Float64())
		c.Confidence = append(c.Confidence, r.Float64())
		c.Predict = append(c.Predict, r.IntN(testCategories))
		c.Label = append(c.Label, r.IntN(testCategories))
		c.Types = append(c.Types, 1+r.IntN(12))
		c.SizeComparison = append(c.SizeComparison, r.IntN(NumSizeComparisons))
		c.Direction = append(c.Direction, r.IntN(NumDirections))
	}
	return c
}

func buildIndex(t testing.TB, cols Columns) *Index {
	t.Helper()
	ix, err := Build(cols, Domains{Categories: testCategories})
	require.NoError(t, err)
	return ix
}

// bruteForce evaluates a completed filter row by row.
func bruteForce(cols Columns, full Filter) []int {
	out := []int{}
	for id := range cols.Types {
		ok := true
		for a, r := range full.Ranges {
			if !r.Contains(cols.floats(a)[id]) {
				ok = false
			}
		}
		for a, values := range full.Sets {
			found := false
			for _, v := range values {
				if cols.ints(a)[id] == v {
					found = true
				}
			}
			if !found {
				ok = false
			}
		}
		if ok {
			out = append(out, id)
		}
	}
	return out
}

func TestQueryIndexFullDomainReturnsEveryPair(t *testing.T) {
	cols := randomColumns(1, 500)
	ix := buildIndex(t, cols)

	ids, err := ix.QueryIndex(Filter{})
	require.NoError(t, err)
	assert.Len(t, ids, 500)

	ids, err = ix.QueryIndex(ix.FullDomain())
	require.NoError(t, err)
	assert.Len(t, ids, ix.Len())
}

func TestQueryIndexMatchesBruteForce(t *testing.T) {
	cols := randomColumns(2, 2000)
	ix := buildIndex(t, cols)
	r := rand.New(rand.NewPCG(3, 3))
	domains := Domains{Categories: testCategories}

	for i := 0; i < 200; i++ {
		f := NewFilter()
		for _, a := range ContinuousAttrs {
			if r.IntN(3) == 0 {
				lo := r.Float64()
				f.Ranges[a] = Range{Min: lo, Max: lo + r.Float64()*(1-lo)}
			}
		}
		for _, a := range CategoricalAttrs {
			if r.IntN(3) == 0 {
				var values []int
				for v := 0; v < domains.size(a); v++ {
					if r.IntN(2) == 0 {
						values = append(values, v)
					}
				}
				f.Sets[a] = values
			}
		}
		got, err := ix.QueryIndex(f)
		require.NoError(t, err)
		full, err := ix.Complete(f)
		require.NoError(t, err)
		if diff := cmp.Diff(bruteForce(cols, full), got); diff != "" {
			t.Fatalf("filter %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestQueryIndexBoundsAreInclusive(t *testing.T) {
	cols := randomColumns(4, 3)
	cols.Confidence = []float64{0.2, 0.5, 0.8}
	ix := buildIndex(t, cols)

	ids, err := ix.QueryIndex(Filter{Ranges: map[Attr]Range{Confidence: {Min: 0.2, Max: 0.5}}})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, ids)

	ids, err = ix.QueryIndex(Filter{Ranges: map[Attr]Range{Confidence: {Min: 0.9, Max: 1}}})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestQueryIndexDuplicateAndOutOfDomainValues(t *testing.T) {
	cols := randomColumns(5, 300)
	ix := buildIndex(t, cols)

	plain, err := ix.QueryIndex(NewFilter().WithValues(Types, 1, 2))
	require.NoError(t, err)
	noisy, err := ix.QueryIndex(NewFilter().WithValues(Types, 2, 1, 1, 99, -3))
	require.NoError(t, err)
	assert.Equal(t, plain, noisy)

	none, err := ix.QueryIndex(NewFilter().WithValues(Types))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCompleteRejectsBadFilters(t *testing.T) {
	ix := buildIndex(t, randomColumns(6, 10))
	tests := []struct {
		name string
		f    Filter
		want error
	}{
		{"unknown range", Filter{Ranges: map[Attr]Range{"width": {0, 1}}}, apperrors.ErrUnknownAttribute},
		{"unknown set", Filter{Sets: map[Attr][]int{"color": {1}}}, apperrors.ErrUnknownAttribute},
		{"inverted range", Filter{Ranges: map[Attr]Range{LabelSize: {0.5, 0.1}}}, apperrors.ErrInvalidFilter},
		{"range on categorical", Filter{Ranges: map[Attr]Range{Types: {0, 1}}}, apperrors.ErrInvalidFilter},
		{"set on continuous", Filter{Sets: map[Attr][]int{Confidence: {1}}}, apperrors.ErrInvalidFilter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ix.QueryIndex(tt.f)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFullDomainWidensToObservedValues(t *testing.T) {
	cols := randomColumns(7, 2)
	cols.LabelSize = []float64{-0.5, 0.3}
	cols.PredictAspectRatio = []float64{0.1, 1.5}
	ix := buildIndex(t, cols)

	full := ix.FullDomain()
	assert.Equal(t, Range{Min: -0.5, Max: 1}, full.Ranges[LabelSize])
	assert.Equal(t, Range{Min: 0, Max: 1.5}, full.Ranges[PredictAspectRatio])
	assert.Equal(t, []int{0, 1, 2, 3}, full.Sets[Label])
	assert.Len(t, full.Sets[Types], NumTypes)
	assert.Len(t, full.Sets[Direction], NumDirections)
}

func TestQueryDistributionUniformConfidence(t *testing.T) {
	const n = 1000
	cols := randomColumns(8, n)
	for i := range cols.Confidence {
		cols.Confidence[i] = (float64(i) + 0.5) / n
		cols.Types[i] = 1
	}
	ix := buildIndex(t, cols)

	h, err := ix.QueryDistribution(Confidence, NewFilter().WithValues(Types, 1), Range{0, 1}, 100)
	require.NoError(t, err)
	assert.Equal(t, n, h.Total())
	require.Len(t, h.Counts, 100)
	require.Len(t, h.Edges, 101)
	for i, c := range h.Counts {
		assert.Equal(t, 10, c, "bucket %d", i)
	}
	assert.Equal(t, 1.0, h.Edges[100])
}

func TestQueryDistributionWindowAndValidation(t *testing.T) {
	cols := randomColumns(9, 4)
	cols.Confidence = []float64{0, 0.25, 0.5, 1}
	ix := buildIndex(t, cols)

	h, err := ix.QueryDistribution(Confidence, Filter{}, Range{0, 0.5}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, h.Counts, "max edge falls in the last bucket")

	h, err = ix.QueryDistribution(Confidence, NewFilter().WithRange(Confidence, Range{0.6, 1}), Range{0, 0.5}, 2)
	require.NoError(t, err)
	assert.Zero(t, h.Total())

	_, err = ix.QueryDistribution(Types, Filter{}, Range{0, 1}, 10)
	assert.ErrorIs(t, err, apperrors.ErrUnknownAttribute)
	_, err = ix.QueryDistribution(Confidence, Filter{}, Range{0, 1}, 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidFilter)
	_, err = ix.QueryDistribution(Confidence, Filter{}, Range{1, 0}, 10)
	assert.ErrorIs(t, err, apperrors.ErrInvalidFilter)
}

func TestBin(t *testing.T) {
	w := Range{0, 1}
	assert.Equal(t, 0, Bin(0, w, 10))
	assert.Equal(t, 2, Bin(0.25, w, 10))
	assert.Equal(t, 9, Bin(1, w, 10))
	assert.Equal(t, 0, Bin(-3, w, 10))
	assert.Equal(t, 0, Bin(0.4, Range{0.4, 0.4}, 10))
}

func TestQueryMatrixAgreesWithQueryIndex(t *testing.T) {
	cols := randomColumns(10, 1500)
	ix := buildIndex(t, cols)
	f := NewFilter().
		WithRange(Confidence, Range{0.3, 0.9}).
		WithValues(Types, 1, 2, 3, 4, 9, 10, 11, 12)

	m, err := ix.QueryMatrix(Label, Predict, f)
	require.NoError(t, err)
	require.Len(t, m, testCategories)

	sum := 0
	for _, row := range m {
		require.Len(t, row, testCategories)
		for _, v := range row {
			sum += v
		}
	}
	ids, err := ix.QueryIndex(f)
	require.NoError(t, err)
	assert.Equal(t, len(ids), sum)
}

func TestQueryMatrixFollowsValueOrder(t *testing.T) {
	cols := Columns{
		LabelAspectRatio:   []float64{0, 0, 0},
		LabelSize:          []float64{0, 0, 0},
		PredictSize:        []float64{0, 0, 0},
		PredictAspectRatio: []float64{0, 0, 0},
		Confidence:         []float64{0, 0, 0},
		Predict:            []int{0, 2, 2},
		Label:              []int{1, 1, 3},
		Types:              []int{2, 2, 2},
		SizeComparison:     []int{0, 0, 0},
		Direction:          []int{8, 8, 8},
	}
	ix := buildIndex(t, cols)

	m, err := ix.QueryMatrix(Label, Predict, NewFilter().WithValues(Label, 3, 1).WithValues(Predict, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 0}, {1, 1}}, m)

	_, err = ix.QueryMatrix(Confidence, Predict, Filter{})
	assert.ErrorIs(t, err, apperrors.ErrUnknownAttribute)
}

func TestBuildRejectsBadColumns(t *testing.T) {
	cols := randomColumns(11, 5)
	cols.Label[2] = testCategories
	_, err := Build(cols, Domains{Categories: testCategories})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	cols = randomColumns(11, 5)
	cols.PredictSize = cols.PredictSize[:4]
	_, err = Build(cols, Domains{Categories: testCategories})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = Build(Columns{}, Domains{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestFilterJSON(t *testing.T) {
	var f Filter
	require.NoError(t, json.Unmarshal([]byte(`{"label_size":[0.1,0.5],"types":[1,2],"bogus":[3]}`), &f))
	assert.Equal(t, Range{0.1, 0.5}, f.Ranges[LabelSize])
	assert.Equal(t, []int{1, 2}, f.Sets[Types])
	assert.Len(t, f.Sets, 1)

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"label_size":[0.1,0.5],"types":[1,2]}`, string(data))

	err = json.Unmarshal([]byte(`{"label_size":"wide"}`), &f)
	assert.ErrorIs(t, err, apperrors.ErrInvalidFilter)
}

func TestUnionPostings(t *testing.T) {
	assert.Equal(t, Postings{}, unionPostings(nil))
	assert.Equal(t, Postings{1, 2, 3, 5, 8}, unionPostings([]Postings{{2, 5}, {1, 3, 8}}))
	assert.Equal(t, Postings{0, 1, 2, 4, 6, 9}, unionPostings([]Postings{{4}, {1, 9}, {0, 2, 6}}))
}
