package analysis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/matching"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/rangeindex"
	apperrors "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/errors"
)

// StatMode selects the per-class statistic.
type StatMode string

const (
	StatAP      StatMode = "ap"
	StatRecall  StatMode = "recall"
	StatGTCount StatMode = "gt_count"
)

const (
	recallPoints = 101
	// machineEpsilon keeps precision finite before the first detection.
	machineEpsilon = 2.220446049250313e-16
)

// averagePrecision is the 101-point interpolated AP of detections ranked by
// descending confidence. hits marks true positives.
func averagePrecision(hits []bool, positives int) float64 {
	if positives == 0 || len(hits) == 0 {
		return 0
	}
	n := len(hits)
	tp := make([]float64, n)
	fp := make([]float64, n)
	for i, h := range hits {
		if h {
			tp[i] = 1
		} else {
			fp[i] = 1
		}
	}
	floats.CumSum(tp, tp)
	floats.CumSum(fp, fp)
	recall := make([]float64, n)
	precision := make([]float64, n)
	for i := range tp {
		recall[i] = tp[i] / float64(positives)
		precision[i] = tp[i] / (tp[i] + fp[i] + machineEpsilon)
	}
	for i := n - 1; i > 0; i-- {
		if precision[i] > precision[i-1] {
			precision[i-1] = precision[i]
		}
	}
	q := make([]float64, recallPoints)
	for r := range q {
		idx := sort.SearchFloat64s(recall, float64(r)/float64(recallPoints-1))
		if idx >= n {
			break
		}
		q[r] = precision[idx]
	}
	return stat.Mean(q, nil)
}

// finalRecall is the recall after every ranked detection.
func finalRecall(hits []bool, positives int) float64 {
	if positives == 0 {
		return 0
	}
	tp := 0
	for _, h := range hits {
		if h {
			tp++
		}
	}
	return float64(tp) / float64(positives)
}

// allPairTypes covers every assigned type except the context marker.
var allPairTypes = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}

// ClassStatistics returns one value per class, background excluded, over
// the pairs matching f. Detections rank by confidence; a detection is a hit
// when its pair is a true positive. Classes without ground truth report 0.
func (an *Analyzer) ClassStatistics(ctx context.Context, key matching.ThresholdKey, f rangeindex.Filter, mode StatMode) ([]float64, error) {
	start := time.Now()
	switch mode {
	case StatAP, StatRecall, StatGTCount:
	default:
		return nil, fmt.Errorf("%w: unknown statistic %q", apperrors.ErrInvalidFilter, mode)
	}
	snap, err := an.src.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	ids, err := snap.Index.QueryIndex(complete(snap, f).WithValues(rangeindex.Types, allPairTypes...))
	if err != nil {
		return nil, err
	}

	c := snap.Corpus
	classes := c.Catalog.Len() - 1
	dets := make([][]int, classes)
	hit := make(map[int]bool)
	gtSeen := make(map[int]bool)
	gtCount := make([]int, classes)
	for _, id := range ids {
		p := snap.Table.Pairs[id]
		if p.Detection != matching.None {
			if cat := c.Detections[p.Detection].Category; cat < classes {
				dets[cat] = append(dets[cat], p.Detection)
			}
			if p.Type == matching.TruePositive {
				hit[p.Detection] = true
			}
		}
		if p.Annotation != matching.None && !gtSeen[p.Annotation] {
			gtSeen[p.Annotation] = true
			if cat := c.Annotations[p.Annotation].Category; cat < classes {
				gtCount[cat]++
			}
		}
	}

	out := make([]float64, classes)
	for cat := range out {
		if mode == StatGTCount {
			out[cat] = float64(gtCount[cat])
			continue
		}
		ranked := dets[cat]
		sort.SliceStable(ranked, func(i, j int) bool {
			return c.Detections[ranked[i]].Confidence > c.Detections[ranked[j]].Confidence
		})
		hits := make([]bool, len(ranked))
		for i, d := range ranked {
			hits[i] = hit[d]
		}
		if mode == StatRecall {
			out[cat] = finalRecall(hits, gtCount[cat])
		} else {
			out[cat] = averagePrecision(hits, gtCount[cat])
		}
	}
	an.observe("class_statistics", start, len(ids))
	return out, nil
}
