// Package analysis answers the analyst-facing questions over a threshold
// key's index: confusion matrices, attribute distributions, per-class
// statistics, error slices and pair lookups.
package analysis

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/matching"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/rangeindex"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/metrics"
)

// Source hands out the snapshot of a threshold key. *engine.Registry is the
// production implementation.
type Source interface {
	Get(ctx context.Context, key matching.ThresholdKey) (*engine.Snapshot, error)
}

// DefaultTypes is the non-duplicate view queries use unless they name types.
var DefaultTypes = []int{
	int(matching.TruePositive), int(matching.ClsError), int(matching.LocError), int(matching.ClsLocError),
	int(matching.BackgroundFP), int(matching.Missed), int(matching.ClsSecondary), int(matching.ClsLocSecondary),
}

// Settings bound the resolution and the search effort of the queries.
type Settings struct {
	HistogramBins   int
	ZoomBins        int
	SliceBins       int
	SliceMinSupport float64
	SliceMaxLength  int
	SliceMinPairs   int
	SliceMinCount   int
}

// SettingsFromConfig copies the query section of the configuration.
func SettingsFromConfig(q config.QueryConfig) Settings {
	return Settings{
		HistogramBins:   q.HistogramBins,
		ZoomBins:        q.ZoomBins,
		SliceBins:       q.SliceBins,
		SliceMinSupport: q.SliceMinSupport,
		SliceMaxLength:  q.SliceMaxLength,
		SliceMinPairs:   q.SliceMinPairs,
		SliceMinCount:   q.SliceMinCount,
	}
}

func DefaultSettings() Settings {
	return Settings{
		HistogramBins:   100,
		ZoomBins:        50,
		SliceBins:       10,
		SliceMinSupport: 0.1,
		SliceMaxLength:  3,
		SliceMinPairs:   100,
		SliceMinCount:   50,
	}
}

type Analyzer struct {
	src      Source
	settings Settings
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates an Analyzer. Zero settings fall back to DefaultSettings; m may
// be nil.
func New(src Source, settings Settings, m *metrics.Metrics) *Analyzer {
	d := DefaultSettings()
	if settings.HistogramBins <= 0 {
		settings.HistogramBins = d.HistogramBins
	}
	if settings.ZoomBins <= 0 {
		settings.ZoomBins = d.ZoomBins
	}
	if settings.SliceBins <= 0 {
		settings.SliceBins = d.SliceBins
	}
	if settings.SliceMinSupport <= 0 {
		settings.SliceMinSupport = d.SliceMinSupport
	}
	if settings.SliceMinPairs <= 0 {
		settings.SliceMinPairs = d.SliceMinPairs
	}
	if settings.SliceMinCount <= 0 {
		settings.SliceMinCount = d.SliceMinCount
	}
	return &Analyzer{
		src:      src,
		settings: settings,
		metrics:  m,
		logger:   logger.WithComponent("analysis"),
	}
}

// DefaultFilter returns the query every request starts from: full domains
// everywhere except types, which keep the non-duplicate view.
func DefaultFilter(numCategories int) rangeindex.Filter {
	f := rangeindex.NewFilter()
	for _, a := range rangeindex.ContinuousAttrs {
		f.Ranges[a] = rangeindex.Range{Min: 0, Max: 1}
	}
	f.Sets[rangeindex.Predict] = sequence(numCategories)
	f.Sets[rangeindex.Label] = sequence(numCategories)
	f.Sets[rangeindex.Types] = append([]int(nil), DefaultTypes...)
	f.Sets[rangeindex.SizeComparison] = sequence(rangeindex.NumSizeComparisons)
	f.Sets[rangeindex.Direction] = sequence(rangeindex.NumDirections)
	return f
}

func sequence(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// complete overlays the caller's entries on the snapshot's full domain with
// the default types. Unknown attributes are dropped.
func complete(snap *engine.Snapshot, f rangeindex.Filter) rangeindex.Filter {
	out := snap.Index.FullDomain().WithValues(rangeindex.Types, DefaultTypes...)
	for a, r := range f.Ranges {
		if a.Continuous() || a.Categorical() {
			out.Ranges[a] = r
		}
	}
	for a, v := range f.Sets {
		if a.Continuous() || a.Categorical() {
			out.Sets[a] = append([]int(nil), v...)
		}
	}
	return out
}

func (an *Analyzer) observe(shape string, start time.Time, results int) {
	if an.metrics == nil {
		return
	}
	an.metrics.QueryLatency.WithLabelValues(shape).Observe(time.Since(start).Seconds())
	an.metrics.QueryResults.WithLabelValues(shape).Observe(float64(results))
}

// Pairs returns the ids of the pairs matching f under the default view.
func (an *Analyzer) Pairs(ctx context.Context, key matching.ThresholdKey, f rangeindex.Filter) ([]int, error) {
	start := time.Now()
	snap, err := an.src.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	ids, err := snap.Index.QueryIndex(complete(snap, f))
	if err != nil {
		return nil, err
	}
	an.observe("index", start, len(ids))
	return ids, nil
}
