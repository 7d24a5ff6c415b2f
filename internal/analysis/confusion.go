package analysis

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/matching"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/rangeindex"
	apperrors "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/errors"
)

// MatrixMode selects one statistic of ConfusionMatrix.
type MatrixMode string

const (
	ModeCount          MatrixMode = "count"
	ModeDirection      MatrixMode = "direction"
	ModeSizeComparison MatrixMode = "size_comparison"
)

// ConfusionResult holds the requested matrices indexed [label][predict].
// Direction cells stack the nine direction buckets; SizeComparison cells
// stack "predict larger" and "label larger". Hierarchy is the category tree
// reordered so similar confusion rows sit together; it keeps catalog order
// when the count matrix was not requested.
type ConfusionResult struct {
	Count          [][]int        `json:"count,omitempty"`
	Direction      [][][]int      `json:"direction,omitempty"`
	SizeComparison [][][]int      `json:"size_comparison,omitempty"`
	Hierarchy      []corpus.Group `json:"hierarchy"`
}

// ConfusionMatrix cross-tabulates true against predicted category. Label
// and predict selections in f do not narrow the query; they zero the cells
// outside the selection afterwards.
func (an *Analyzer) ConfusionMatrix(ctx context.Context, key matching.ThresholdKey, f rangeindex.Filter, modes ...MatrixMode) (*ConfusionResult, error) {
	start := time.Now()
	snap, err := an.src.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(modes) == 0 {
		modes = []MatrixMode{ModeCount}
	}
	n := snap.Corpus.Catalog.Len()
	labelSel, hasLabel := f.Sets[rangeindex.Label]
	predSel, hasPred := f.Sets[rangeindex.Predict]
	q := complete(snap, f).
		WithValues(rangeindex.Label, sequence(n)...).
		WithValues(rangeindex.Predict, sequence(n)...)

	matrix := func(q rangeindex.Filter) ([][]int, error) {
		return snap.Index.QueryMatrix(rangeindex.Label, rangeindex.Predict, q)
	}
	stacked := func(attr rangeindex.Attr, values []int) ([][][]int, error) {
		out := make([][][]int, n)
		for i := range out {
			out[i] = make([][]int, n)
			for j := range out[i] {
				out[i][j] = make([]int, len(values))
			}
		}
		for k, v := range values {
			m, err := matrix(q.WithValues(attr, v))
			if err != nil {
				return nil, err
			}
			for i := range m {
				for j := range m[i] {
					out[i][j][k] = m[i][j]
				}
			}
		}
		return out, nil
	}

	res := &ConfusionResult{}
	for _, mode := range modes {
		switch mode {
		case ModeCount:
			res.Count, err = matrix(q)
		case ModeDirection:
			res.Direction, err = stacked(rangeindex.Direction, sequence(rangeindex.NumDirections))
		case ModeSizeComparison:
			res.SizeComparison, err = stacked(rangeindex.SizeComparison, []int{engine.SizePredictLarger, engine.SizeLabelLarger})
		default:
			return nil, fmt.Errorf("%w: unknown matrix mode %q", apperrors.ErrInvalidFilter, mode)
		}
		if err != nil {
			return nil, err
		}
	}

	if hasLabel || hasPred {
		keep := func(i, j int) bool {
			return (!hasLabel || slices.Contains(labelSel, i)) && (!hasPred || slices.Contains(predSel, j))
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if keep(i, j) {
					continue
				}
				if res.Count != nil {
					res.Count[i][j] = 0
				}
				if res.Direction != nil {
					clear(res.Direction[i][j])
				}
				if res.SizeComparison != nil {
					clear(res.SizeComparison[i][j])
				}
			}
		}
	}

	res.Hierarchy = cloneHierarchy(snap.Corpus.Catalog.Hierarchy)
	if res.Count != nil {
		res.Hierarchy = reorderHierarchy(snap.Corpus.Catalog, res.Count)
	}
	an.observe("matrix", start, n*n)
	return res, nil
}

func cloneHierarchy(groups []corpus.Group) []corpus.Group {
	out := make([]corpus.Group, len(groups))
	for i, g := range groups {
		out[i] = corpus.Group{Name: g.Name, Children: append([]string(nil), g.Children...)}
	}
	return out
}

// reorderHierarchy orders the top-level groups by Ward clustering of the
// row-normalised group confusion matrix, then does the same inside every
// group of three or more classes.
func reorderHierarchy(cat corpus.Catalog, count [][]int) []corpus.Group {
	groups := cloneHierarchy(cat.Hierarchy)
	members := make([][]int, len(groups))
	for g, grp := range groups {
		for _, name := range grp.Children {
			if id, ok := cat.Index(name); ok {
				members[g] = append(members[g], id)
			}
		}
	}

	top := make([][]float64, len(groups))
	for gi := range groups {
		top[gi] = make([]float64, len(groups))
		for gj := range groups {
			for _, i := range members[gi] {
				for _, j := range members[gj] {
					top[gi][gj] += float64(count[i][j])
				}
			}
		}
	}
	order := wardOrder(normalizeRows(top))
	reordered := make([]corpus.Group, len(order))
	for i, g := range order {
		reordered[i] = groups[g]
	}

	full := make([][]float64, len(count))
	for i, row := range count {
		full[i] = make([]float64, len(row))
		for j, v := range row {
			full[i][j] = float64(v)
		}
	}
	full = normalizeRows(full)
	for g := range reordered {
		children := reordered[g].Children
		if len(children) < 3 {
			continue
		}
		ids := make([]int, len(children))
		for k, name := range children {
			ids[k], _ = cat.Index(name)
		}
		sub := make([][]float64, len(ids))
		for a, i := range ids {
			sub[a] = make([]float64, len(ids))
			for b, j := range ids {
				sub[a][b] = full[i][j]
			}
		}
		childOrder := wardOrder(sub)
		next := make([]string, len(children))
		for k, c := range childOrder {
			next[k] = children[c]
		}
		reordered[g].Children = next
	}
	return reordered
}

// Cell is the drill-down of a set of confusion matrix cells.
type Cell struct {
	Pairs  []int `json:"pairs"`
	Images []int `json:"images"`
}

// ImagesInCell returns the pairs whose true and predicted categories fall in
// labels and preds, and the images they belong to in ascending order.
func (an *Analyzer) ImagesInCell(ctx context.Context, key matching.ThresholdKey, f rangeindex.Filter, labels, preds []int) (*Cell, error) {
	start := time.Now()
	snap, err := an.src.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	q := complete(snap, f).
		WithValues(rangeindex.Label, labels...).
		WithValues(rangeindex.Predict, preds...)
	ids, err := snap.Index.QueryIndex(q)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool)
	cell := &Cell{Pairs: ids, Images: []int{}}
	for _, id := range ids {
		im := imageOf(snap, snap.Table.Pairs[id])
		if !seen[im] {
			seen[im] = true
			cell.Images = append(cell.Images, im)
		}
	}
	slices.Sort(cell.Images)
	an.observe("cell", start, len(ids))
	return cell, nil
}
