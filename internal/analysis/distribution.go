package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/matching"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/rangeindex"
	apperrors "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/errors"
)

var (
	// predictionTypes count every pair that has a detection.
	predictionTypes = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 11, 12}
	// labelTypes count every annotation once.
	labelTypes = []int{1, 2, 3, 4, 10}
)

// typesFor picks the pair types whose values of attr are meaningful.
func typesFor(attr rangeindex.Attr) []int {
	switch attr {
	case rangeindex.Confidence, rangeindex.PredictSize, rangeindex.PredictAspectRatio:
		return predictionTypes
	}
	return labelTypes
}

// UnitWindow is the default histogram window.
var UnitWindow = rangeindex.Range{Min: 0, Max: 1}

func (an *Analyzer) distribution(snap *engine.Snapshot, f rangeindex.Filter, attr rangeindex.Attr, window rangeindex.Range, bins int) (rangeindex.Histogram, error) {
	if !attr.Continuous() {
		return rangeindex.Histogram{}, fmt.Errorf("%w: %q has no distribution", apperrors.ErrUnknownAttribute, attr)
	}
	q := complete(snap, f).WithValues(rangeindex.Types, typesFor(attr)...)
	return snap.Index.QueryDistribution(attr, q, window, bins)
}

// Distribution histograms attr over window for the pairs matching f. Types
// are fixed by the side attr describes.
func (an *Analyzer) Distribution(ctx context.Context, key matching.ThresholdKey, f rangeindex.Filter, attr rangeindex.Attr, window rangeindex.Range) (rangeindex.Histogram, error) {
	start := time.Now()
	snap, err := an.src.Get(ctx, key)
	if err != nil {
		return rangeindex.Histogram{}, err
	}
	h, err := an.distribution(snap, f, attr, window, an.settings.HistogramBins)
	if err != nil {
		return rangeindex.Histogram{}, err
	}
	an.observe("distribution", start, h.Total())
	return h, nil
}

// HoverDistributions computes Distribution for several targets at once,
// each over its own window.
func (an *Analyzer) HoverDistributions(ctx context.Context, key matching.ThresholdKey, f rangeindex.Filter, targets map[rangeindex.Attr]rangeindex.Range) (map[rangeindex.Attr]rangeindex.Histogram, error) {
	start := time.Now()
	snap, err := an.src.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make(map[rangeindex.Attr]rangeindex.Histogram, len(targets))
	total := 0
	for attr, window := range targets {
		h, err := an.distribution(snap, f, attr, window, an.settings.HistogramBins)
		if err != nil {
			return nil, fmt.Errorf("distribution of %s: %w", attr, err)
		}
		out[attr] = h
		total += h.Total()
	}
	an.observe("hover", start, total)
	return out, nil
}

// Zoom compares the selection against the unfiltered population inside a
// narrowed window.
type Zoom struct {
	All      rangeindex.Histogram `json:"all"`
	Selected rangeindex.Histogram `json:"selected"`
	Split    []float64            `json:"split"`
}

func (an *Analyzer) ZoomInDistribution(ctx context.Context, key matching.ThresholdKey, f rangeindex.Filter, attr rangeindex.Attr, window rangeindex.Range) (*Zoom, error) {
	start := time.Now()
	snap, err := an.src.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	bins := an.settings.ZoomBins
	all, err := an.distribution(snap, rangeindex.NewFilter(), attr, window, bins)
	if err != nil {
		return nil, err
	}
	selected, err := an.distribution(snap, f, attr, window, bins)
	if err != nil {
		return nil, err
	}
	an.observe("zoom", start, selected.Total())
	return &Zoom{All: all, Selected: selected, Split: selected.Edges}, nil
}
