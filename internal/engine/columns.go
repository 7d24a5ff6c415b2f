package engine

import (
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/direction"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/matching"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/rangeindex"
)

// Size comparison buckets.
const (
	SizeTie = iota
	SizePredictLarger
	SizeLabelLarger
)

// SizeComparison buckets the area relation inside one pair. Pairs missing an
// endpoint, or overlapping above the IoU threshold, compare equal.
func SizeComparison(p matching.Pair, predSize, labelSize, threshold float64) int {
	if p.Detection == matching.None || p.Annotation == matching.None || p.IoU > threshold {
		return SizeTie
	}
	if predSize > labelSize {
		return SizePredictLarger
	}
	return SizeLabelLarger
}

// BuildColumns lays out one index row per pair. Missing endpoints report
// the background category and zero for their continuous attributes.
func BuildColumns(c *corpus.Corpus, attrs corpus.Attributes, table *matching.PairTable, dirs []direction.Direction) rangeindex.Columns {
	n := len(table.Pairs)
	cols := rangeindex.Columns{
		LabelAspectRatio:   make([]float64, n),
		LabelSize:          make([]float64, n),
		PredictSize:        make([]float64, n),
		PredictAspectRatio: make([]float64, n),
		Confidence:         make([]float64, n),
		Predict:            make([]int, n),
		Label:              make([]int, n),
		Types:              make([]int, n),
		SizeComparison:     make([]int, n),
		Direction:          make([]int, n),
	}
	bg := c.Catalog.Background()
	for i, p := range table.Pairs {
		cols.Predict[i] = bg
		cols.Label[i] = bg
		if d := p.Detection; d != matching.None {
			cols.Predict[i] = c.Detections[d].Category
			cols.Confidence[i] = c.Detections[d].Confidence
			cols.PredictSize[i] = attrs.DetectionSize[d]
			cols.PredictAspectRatio[i] = attrs.DetectionAspect[d]
		}
		if a := p.Annotation; a != matching.None {
			cols.Label[i] = c.Annotations[a].Category
			cols.LabelSize[i] = min(attrs.AnnotationSize[a], 1)
			cols.LabelAspectRatio[i] = attrs.AnnotationAspect[a]
		}
		cols.Types[i] = int(p.Type)
		cols.SizeComparison[i] = SizeComparison(p, cols.PredictSize[i], cols.LabelSize[i], table.Key.IoU)
		cols.Direction[i] = dirs[i].Indexed()
	}
	return cols
}
