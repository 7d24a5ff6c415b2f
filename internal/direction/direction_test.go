package direction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/geometry"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/matching"
)

func TestOf(t *testing.T) {
	tests := []struct {
		name   string
		dx, dy float64
		want   Direction
	}{
		{"left", -1, 0, 0},
		{"up left", -1, -1, 1},
		{"up", 0, -1, 2},
		{"up right", 1, -1, 3},
		{"right", 1, 0, 4},
		{"down right", 1, 1, 5},
		{"down", 0, 1, 6},
		{"down left", -1, 1, 7},
		{"left slightly down", -1, 0.1, 0},
		{"zero vector", 0, 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Of(tt.dx, tt.dy))
		})
	}
}

func TestClassify(t *testing.T) {
	b := corpus.NewBuilder("toy", corpus.NewCatalog([]string{"a", "b"}, nil))
	b.AddImage("x", 10, 10,
		[]corpus.Detection{
			{Box: geometry.Box{CX: 0.6, CY: 0.5, W: 0.1, H: 0.1}},
			{Box: geometry.Box{CX: 0.5, CY: 0.6, W: 0.1, H: 0.1}},
			{Box: geometry.Box{CX: 0.5, CY: 0.5, W: 0.1, H: 0.1}},
		},
		[]corpus.Annotation{{Box: geometry.Box{CX: 0.5, CY: 0.5, W: 0.1, H: 0.1}}},
	)
	c := b.Build()
	table := &matching.PairTable{Pairs: []matching.Pair{
		{Detection: 0, Annotation: 0, Type: matching.LocError},
		{Detection: 1, Annotation: 0, Type: matching.ClsLocError},
		{Detection: 2, Annotation: 0, Type: matching.TruePositive},
		{Detection: 2, Annotation: matching.None, Type: matching.BackgroundFP},
		{Detection: matching.None, Annotation: 0, Type: matching.Missed},
		{Detection: 0, Annotation: 0, Type: matching.DupTruePositive},
	}}

	got := Classify(table, c)
	assert.Equal(t, []Direction{4, 6, Centered, None, None, Centered}, got)
	assert.Equal(t, 8, None.Indexed())
	assert.Equal(t, 6, got[1].Indexed())
}
