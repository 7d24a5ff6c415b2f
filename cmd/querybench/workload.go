package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/geometry"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/matching"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/rangeindex"
)

// syntheticCorpus builds a corpus where about two thirds of the detections
// sit near an annotation, so every error type shows up.
func syntheticCorpus(seed uint64, images, categories int) *corpus.Corpus {
	r := rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
	names := make([]string, categories)
	for i := range names {
		names[i] = fmt.Sprintf("class-%02d", i)
	}
	b := corpus.NewBuilder("synthetic", corpus.NewCatalog(names, nil))
	box := func() geometry.Box {
		return geometry.Box{
			CX: 0.15 + 0.7*r.Float64(),
			CY: 0.15 + 0.7*r.Float64(),
			W:  0.02 + 0.3*r.Float64(),
			H:  0.02 + 0.3*r.Float64(),
		}
	}
	for i := 0; i < images; i++ {
		anns := make([]corpus.Annotation, 1+r.IntN(8))
		for j := range anns {
			anns[j] = corpus.Annotation{Category: r.IntN(categories), Crowd: r.IntN(40) == 0, Box: box()}
		}
		dets := make([]corpus.Detection, r.IntN(12))
		for j := range dets {
			d := corpus.Detection{Category: r.IntN(categories), Confidence: r.Float64(), Box: box()}
			if r.IntN(3) > 0 {
				a := anns[r.IntN(len(anns))]
				d.Box = geometry.Box{
					CX: a.Box.CX + 0.04*(r.Float64()-0.5),
					CY: a.Box.CY + 0.04*(r.Float64()-0.5),
					W:  a.Box.W * (0.8 + 0.4*r.Float64()),
					H:  a.Box.H * (0.8 + 0.4*r.Float64()),
				}
				if r.IntN(4) > 0 {
					d.Category = a.Category
				}
			}
			dets[j] = d
		}
		b.AddImage(fmt.Sprintf("img-%06d.jpg", i), 640, 480, dets, anns)
	}
	return b.Build()
}

// dragSteps emulates a slider pulled across attr: a window of width grows
// its lower edge from 0 to 1-width in steps increments.
func dragSteps(attr rangeindex.Attr, width float64, steps int) []rangeindex.Filter {
	if steps < 1 {
		steps = 1
	}
	out := make([]rangeindex.Filter, steps)
	for i := range out {
		lo := (1 - width) * float64(i) / float64(max(steps-1, 1))
		out[i] = rangeindex.NewFilter().WithRange(attr, rangeindex.Range{Min: lo, Max: lo + width})
	}
	return out
}

// Shape names one kind of query a drag step triggers.
type Shape string

const (
	ShapeIndex        Shape = "index"
	ShapeDistribution Shape = "distribution"
	ShapeMatrix       Shape = "matrix"
	ShapeStatistics   Shape = "statistics"
)

var shapes = []Shape{ShapeIndex, ShapeDistribution, ShapeMatrix, ShapeStatistics}

func runShape(ctx context.Context, an *analysis.Analyzer, key matching.ThresholdKey, f rangeindex.Filter, s Shape) error {
	var err error
	switch s {
	case ShapeIndex:
		_, err = an.Pairs(ctx, key, f)
	case ShapeDistribution:
		_, err = an.Distribution(ctx, key, f, rangeindex.LabelSize, analysis.UnitWindow)
	case ShapeMatrix:
		_, err = an.ConfusionMatrix(ctx, key, f, analysis.ModeCount)
	case ShapeStatistics:
		_, err = an.ClassStatistics(ctx, key, f, analysis.StatAP)
	default:
		err = fmt.Errorf("unknown shape %q", s)
	}
	return err
}

// Stats collects latencies per shape. It is safe for concurrent use.
type Stats struct {
	mu        sync.Mutex
	latencies map[Shape][]float64
	errors    map[Shape]int
}

func NewStats() *Stats {
	return &Stats{latencies: make(map[Shape][]float64), errors: make(map[Shape]int)}
}

func (s *Stats) Record(shape Shape, d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errors[shape]++
		return
	}
	s.latencies[shape] = append(s.latencies[shape], d.Seconds())
}

// Summary describes the latency distribution of one shape in seconds.
type Summary struct {
	Shape  Shape
	Count  int
	Errors int
	Mean   float64
	StdDev float64
	P50    float64
	P90    float64
	P99    float64
	Max    float64
}

func (s *Stats) Summaries() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Summary, 0, len(shapes))
	for _, shape := range shapes {
		xs := append([]float64(nil), s.latencies[shape]...)
		sum := Summary{Shape: shape, Count: len(xs), Errors: s.errors[shape]}
		if len(xs) > 0 {
			sort.Float64s(xs)
			sum.Mean, sum.StdDev = stat.MeanStdDev(xs, nil)
			sum.P50 = stat.Quantile(0.5, stat.Empirical, xs, nil)
			sum.P90 = stat.Quantile(0.9, stat.Empirical, xs, nil)
			sum.P99 = stat.Quantile(0.99, stat.Empirical, xs, nil)
			sum.Max = xs[len(xs)-1]
		}
		out = append(out, sum)
	}
	return out
}
