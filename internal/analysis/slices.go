package analysis

import (
	"context"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/matching"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/rangeindex"
)

// SliceAttrs are the attributes slices are mined over.
var SliceAttrs = []rangeindex.Attr{
	rangeindex.LabelAspectRatio,
	rangeindex.LabelSize,
	rangeindex.PredictSize,
	rangeindex.PredictAspectRatio,
	rangeindex.Confidence,
}

const splitEpsilon = 1e-6

// SliceItem pins one attribute to one equal-frequency bin.
type SliceItem struct {
	Attr  rangeindex.Attr  `json:"attr"`
	Bin   int              `json:"bin"`
	Range rangeindex.Range `json:"range"`
}

// Slice is a frequent attribute combination within one class. Quantity is
// the number of non-duplicate pairs it covers; Precision and AP also count
// the duplicates that fall inside it.
type Slice struct {
	Category    string                      `json:"category"`
	CategoryID  int                         `json:"category_id"`
	Items       []SliceItem                 `json:"items"`
	Support     float64                     `json:"support"`
	Quantity    int                         `json:"quantity"`
	Precision   float64                     `json:"precision"`
	Recall      float64                     `json:"recall"`
	AP          float64                     `json:"ap"`
	Averages    map[rangeindex.Attr]float64 `json:"averages"`
	Percentiles map[rangeindex.Attr]float64 `json:"percentiles"`
	Query       rangeindex.Filter           `json:"query"`
}

// SliceReport lists the slices of one key and the bin splits per attribute.
type SliceReport struct {
	Key    matching.ThresholdKey         `json:"key"`
	Slices []Slice                       `json:"slices"`
	Splits map[rangeindex.Attr][]float64 `json:"splits"`
}

// equalFrequencySplits returns k+1 split points putting roughly the same
// number of values in each [split[i], split[i+1]) bin. The last split is
// nudged up so the maximum falls inside the last bin.
func equalFrequencySplits(values []float64, k int) []float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	splits := make([]float64, k+1)
	for i := range splits {
		splits[i] = sorted[min(n/k*i, n-1)]
	}
	splits[k] += splitEpsilon
	return splits
}

// binOf returns the bin of v under splits, or -1 outside them.
func binOf(v float64, splits []float64) int {
	b := sort.Search(len(splits), func(i int) bool { return splits[i] > v }) - 1
	if b < 0 || b >= len(splits)-1 {
		return -1
	}
	return b
}

type item struct {
	attr, bin int
}

type itemset struct {
	items []item
	count int
}

func (s itemset) matches(row []int) bool {
	for _, it := range s.items {
		if row[it.attr] != it.bin {
			return false
		}
	}
	return true
}

func itemsetKey(items []item) string {
	b := make([]byte, 0, 2*len(items))
	for _, it := range items {
		b = append(b, byte(it.attr), byte(it.bin))
	}
	return string(b)
}

// apriori mines the itemsets whose support over rows reaches minSupport.
// Every row holds one bin per attribute, so an itemset names each attribute
// at most once. maxLen bounds the itemset size; zero means no bound.
// Itemsets come out by size, then in attribute and bin order.
func apriori(rows [][]int, attrs int, minSupport float64, maxLen int) []itemset {
	if len(rows) == 0 {
		return nil
	}
	frequent := func(count int) bool {
		return float64(count)/float64(len(rows)) >= minSupport
	}
	if maxLen <= 0 || maxLen > attrs {
		maxLen = attrs
	}

	counts := make(map[item]int)
	for _, row := range rows {
		for a, b := range row {
			if b >= 0 {
				counts[item{a, b}]++
			}
		}
	}
	var level []itemset
	for it, n := range counts {
		if frequent(n) {
			level = append(level, itemset{items: []item{it}, count: n})
		}
	}
	sort.Slice(level, func(i, j int) bool {
		a, b := level[i].items[0], level[j].items[0]
		if a.attr != b.attr {
			return a.attr < b.attr
		}
		return a.bin < b.bin
	})

	var out []itemset
	for size := 1; len(level) > 0; size++ {
		out = append(out, level...)
		if size == maxLen {
			break
		}
		known := make(map[string]bool, len(level))
		for _, s := range level {
			known[itemsetKey(s.items)] = true
		}
		var next []itemset
		for i := 0; i < len(level); i++ {
			for j := i + 1; j < len(level); j++ {
				a, b := level[i].items, level[j].items
				if itemsetKey(a[:size-1]) != itemsetKey(b[:size-1]) {
					break
				}
				if a[size-1].attr == b[size-1].attr {
					continue
				}
				cand := append(append([]item(nil), a...), b[size-1])
				if !subsetsKnown(cand, known) {
					continue
				}
				s := itemset{items: cand}
				for _, row := range rows {
					if s.matches(row) {
						s.count++
					}
				}
				if frequent(s.count) {
					next = append(next, s)
				}
			}
		}
		level = next
	}
	return out
}

// subsetsKnown reports whether every subset of cand one item smaller is
// frequent.
func subsetsKnown(cand []item, known map[string]bool) bool {
	sub := make([]item, 0, len(cand)-1)
	for skip := range cand {
		sub = sub[:0]
		for i, it := range cand {
			if i != skip {
				sub = append(sub, it)
			}
		}
		if !known[itemsetKey(sub)] {
			return false
		}
	}
	return true
}

// Slices mines frequent attribute combinations of correctly classified
// pairs per class. Only true positives and localization errors take part in
// the mining; a class needs SliceMinPairs of them and a slice needs
// SliceMinCount. f narrows the population; its types entry is ignored.
func (an *Analyzer) Slices(ctx context.Context, key matching.ThresholdKey, f rangeindex.Filter) (*SliceReport, error) {
	start := time.Now()
	snap, err := an.src.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	ix := snap.Index
	ids, err := ix.QueryIndex(complete(snap, f).WithValues(rangeindex.Types, sequence(rangeindex.NumTypes)...))
	if err != nil {
		return nil, err
	}
	types, err := ix.Ints(rangeindex.Types)
	if err != nil {
		return nil, err
	}
	pred, err := ix.Ints(rangeindex.Predict)
	if err != nil {
		return nil, err
	}
	label, err := ix.Ints(rangeindex.Label)
	if err != nil {
		return nil, err
	}
	cols := make([][]float64, len(SliceAttrs))
	for a, attr := range SliceAttrs {
		if cols[a], err = ix.Floats(attr); err != nil {
			return nil, err
		}
	}

	var nonDup []int
	for _, id := range ids {
		if t := matching.ErrorType(types[id]); t == matching.TruePositive || t == matching.LocError {
			nonDup = append(nonDup, id)
		}
	}
	st := an.settings
	report := &SliceReport{Key: snap.Key, Slices: []Slice{}, Splits: make(map[rangeindex.Attr][]float64)}
	splits := make([][]float64, len(SliceAttrs))
	fine := make([][]float64, len(SliceAttrs))
	for a, attr := range SliceAttrs {
		values := make([]float64, len(nonDup))
		for i, id := range nonDup {
			values[i] = cols[a][id]
		}
		splits[a] = equalFrequencySplits(values, st.SliceBins)
		fine[a] = equalFrequencySplits(values, 100)
		report.Splits[attr] = splits[a]
	}
	bins := func(id int) []int {
		row := make([]int, len(SliceAttrs))
		for a := range SliceAttrs {
			row[a] = binOf(cols[a][id], splits[a])
		}
		return row
	}

	names := snap.Corpus.Catalog.Names
	for cat := 0; cat < snap.Corpus.Catalog.Len()-1; cat++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sameClass := func(id int) bool { return int(pred[id]) == cat && int(label[id]) == cat }
		var target, all []int
		for _, id := range nonDup {
			if sameClass(id) {
				target = append(target, id)
			}
		}
		if len(target) < st.SliceMinPairs {
			continue
		}
		for _, id := range ids {
			if sameClass(id) {
				all = append(all, id)
			}
		}
		targetRows := make([][]int, len(target))
		for i, id := range target {
			targetRows[i] = bins(id)
		}
		allRows := make([][]int, len(all))
		for i, id := range all {
			allRows[i] = bins(id)
		}

		for _, set := range apriori(targetRows, len(SliceAttrs), st.SliceMinSupport, st.SliceMaxLength) {
			if set.count < st.SliceMinCount {
				continue
			}
			s := Slice{
				Category:    names[cat],
				CategoryID:  cat,
				Support:     float64(set.count) / float64(len(target)),
				Quantity:    set.count,
				Averages:    make(map[rangeindex.Attr]float64, len(SliceAttrs)),
				Percentiles: make(map[rangeindex.Attr]float64, len(SliceAttrs)),
				Query:       rangeindex.NewFilter().WithValues(rangeindex.Predict, cat).WithValues(rangeindex.Label, cat),
			}
			for _, it := range set.items {
				r := rangeindex.Range{Min: splits[it.attr][it.bin], Max: splits[it.attr][it.bin+1]}
				s.Items = append(s.Items, SliceItem{Attr: SliceAttrs[it.attr], Bin: it.bin, Range: r})
				s.Query.Ranges[SliceAttrs[it.attr]] = r
			}

			var members []int
			for i, row := range targetRows {
				if set.matches(row) {
					members = append(members, target[i])
				}
			}
			for a, attr := range SliceAttrs {
				values := make([]float64, len(members))
				for i, id := range members {
					values[i] = cols[a][id]
				}
				avg := stat.Mean(values, nil)
				s.Averages[attr] = avg
				s.Percentiles[attr] = float64(sort.SearchFloat64s(fine[a], avg)-1) / 100
			}

			var covered []int
			for i, row := range allRows {
				if set.matches(row) {
					covered = append(covered, all[i])
				}
			}
			sort.SliceStable(covered, func(i, j int) bool {
				return snap.Corpus.Detections[snap.Table.Pairs[covered[i]].Detection].Confidence >
					snap.Corpus.Detections[snap.Table.Pairs[covered[j]].Detection].Confidence
			})
			hits := make([]bool, len(covered))
			tp := 0
			for i, id := range covered {
				hits[i] = matching.ErrorType(types[id]) == matching.TruePositive
				if hits[i] {
					tp++
				}
			}
			s.Recall = float64(tp) / float64(set.count)
			if len(covered) > 0 {
				s.Precision = float64(tp) / float64(len(covered))
			}
			s.AP = averagePrecision(hits, set.count)
			report.Slices = append(report.Slices, s)
		}
	}
	an.logger.Debug("slices mined", "key", key.String(), "slices", len(report.Slices), "pairs", len(nonDup))
	an.observe("slices", start, len(report.Slices))
	return report, nil
}
