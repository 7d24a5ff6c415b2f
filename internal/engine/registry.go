// Package engine owns the per-threshold-key indexes of one corpus. A
// Registry is initialised once, builds each key's index on first use (or
// eagerly through Warm) and keeps it resident until Reload or Close.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/direction"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/matching"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/rangeindex"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/stage"
	apperrors "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/tracing"
)

// Options configures a Registry. Keys is the closed set of threshold keys
// queries may name. Features, Context and OnBuild are optional; OnBuild runs
// after a fresh snapshot becomes resident.
type Options struct {
	Dataset         string
	Keys            []matching.ThresholdKey
	Background      float64
	WarmConcurrency int
	Loader          corpus.Loader
	Context         corpus.Loader
	Features        corpus.FeatureSource
	FeatureDim      int
	Cache           *stage.Cache
	Metrics         *metrics.Metrics
	Tracing         bool
	OnBuild         func(ctx context.Context, snap *Snapshot)
}

// Snapshot is everything a query needs for one threshold key. It is
// immutable once returned. Features and Context are nil unless the registry
// has a feature source or a context corpus.
type Snapshot struct {
	Key        matching.ThresholdKey
	Version    string
	Corpus     *corpus.Corpus
	Attributes corpus.Attributes
	Table      *matching.PairTable
	Directions []direction.Direction
	Index      *rangeindex.Index
	Features   *corpus.Features
	Context    *Context
}

// Context is a reference corpus shown next to the evaluated one. Table
// holds one ContextGT pair per annotation, so pair ids equal annotation ids.
type Context struct {
	Corpus *corpus.Corpus
	Table  *matching.PairTable
	byName map[string]int
}

func newContext(c *corpus.Corpus) *Context {
	byName := make(map[string]int, len(c.Images))
	for i, im := range c.Images {
		byName[im.Name] = i
	}
	return &Context{Corpus: c, Table: matching.ContextPairs(c), byName: byName}
}

// ImageAnnotations returns the context annotations of the image with the
// given name, or nil when the reference corpus does not have it.
func (c *Context) ImageAnnotations(name string) []int {
	i, ok := c.byName[name]
	if !ok {
		return nil
	}
	span := c.Corpus.Images[i].Annotations
	out := make([]int, 0, span.Len())
	for a := span.Start; a < span.End; a++ {
		out = append(out, a)
	}
	return out
}

// base is the key-independent state of one corpus generation.
type base struct {
	generation uint64
	corpus     *corpus.Corpus
	version    string
	attrs      corpus.Attributes
	features   *corpus.Features
	context    *Context
}

type Registry struct {
	opts   Options
	keys   map[matching.ThresholdKey]bool
	group  singleflight.Group
	logger *slog.Logger

	mu         sync.RWMutex
	base       *base
	generation uint64
	resident   map[matching.ThresholdKey]*Snapshot
}

// New validates opts. Call Init before Get.
func New(opts Options) (*Registry, error) {
	if opts.Loader == nil {
		return nil, fmt.Errorf("%w: registry needs a corpus loader", apperrors.ErrInvalidInput)
	}
	if len(opts.Keys) == 0 {
		return nil, fmt.Errorf("%w: registry needs at least one threshold key", apperrors.ErrInvalidInput)
	}
	if opts.Cache == nil {
		opts.Cache = stage.NewCache(stage.NewMemoryStore(), 0, opts.Metrics)
	}
	if opts.Background <= 0 {
		opts.Background = matching.DefaultBackgroundIoU
	}
	if opts.WarmConcurrency <= 0 {
		opts.WarmConcurrency = 1
	}
	keys := make(map[matching.ThresholdKey]bool, len(opts.Keys))
	unique := make([]matching.ThresholdKey, 0, len(opts.Keys))
	for _, k := range opts.Keys {
		if !keys[k] {
			keys[k] = true
			unique = append(unique, k)
		}
	}
	opts.Keys = unique
	return &Registry{
		opts:     opts,
		keys:     keys,
		logger:   logger.WithComponent("registry"),
		resident: make(map[matching.ThresholdKey]*Snapshot),
	}, nil
}

// Keys lists the configured threshold keys in configuration order.
func (r *Registry) Keys() []matching.ThresholdKey {
	return append([]matching.ThresholdKey(nil), r.opts.Keys...)
}

// Resolve returns key when it is configured exactly, or fails with
// ErrUnknownThresholdKey.
func (r *Registry) Resolve(key matching.ThresholdKey) (matching.ThresholdKey, error) {
	if !r.keys[key] {
		return matching.ThresholdKey{}, fmt.Errorf("%w: %s", apperrors.ErrUnknownThresholdKey, key.ID())
	}
	return key, nil
}

func (r *Registry) observe(stageName string, start time.Time) {
	if r.opts.Metrics != nil {
		r.opts.Metrics.BuildDuration.WithLabelValues(stageName).Observe(time.Since(start).Seconds())
	}
}

// Init loads the corpus and its key-independent stages. It may be called
// again to pick up a changed corpus; resident indexes are dropped.
func (r *Registry) Init(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "init", "")
	defer func() {
		span.End()
		if r.opts.Tracing {
			span.Log(r.logger)
		}
	}()

	b, err := r.loadBase(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.generation++
	b.generation = r.generation
	r.base = b
	r.resident = make(map[matching.ThresholdKey]*Snapshot)
	r.mu.Unlock()
	r.setResident(0)

	r.logger.Info("corpus ready",
		"dataset", b.corpus.Dataset,
		"version", b.version,
		"images", len(b.corpus.Images),
		"detections", len(b.corpus.Detections),
		"annotations", len(b.corpus.Annotations),
	)
	return nil
}

func (r *Registry) loadBase(ctx context.Context) (*base, error) {
	cache := r.opts.Cache
	dataset := r.opts.Dataset

	// Without a source fingerprint the cached corpus lives until Reload.
	corpusKey := stage.Key{Dataset: dataset, Stage: stage.Corpus}
	if fp, ok := r.opts.Loader.(corpus.Fingerprinter); ok {
		v, err := fp.SourceFingerprint(ctx)
		if err != nil {
			return nil, fmt.Errorf("fingerprinting corpus %s: %w", dataset, err)
		}
		corpusKey.Version = v
	}

	loadCtx, span := tracing.StartChildSpan(ctx, "load")
	start := time.Now()
	c, hit, err := stage.Fetch(loadCtx, cache, corpusKey, func(ctx context.Context) (*corpus.Corpus, error) {
		return r.opts.Loader.Load(ctx)
	})
	span.SetAttr("cache_hit", hit)
	span.End()
	r.observe("load", start)
	if err != nil {
		return nil, fmt.Errorf("loading corpus %s: %w", dataset, err)
	}
	if dataset == "" {
		dataset = c.Dataset
	}
	b := &base{corpus: c, version: c.Fingerprint()}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, span = tracing.StartChildSpan(ctx, "derive")
	start = time.Now()
	b.attrs, hit, err = stage.Fetch(ctx, cache, stage.Key{Dataset: dataset, Version: b.version, Stage: stage.Attributes}, func(context.Context) (corpus.Attributes, error) {
		return corpus.Derive(c), nil
	})
	span.SetAttr("cache_hit", hit)
	span.End()
	r.observe("derive", start)
	if err != nil {
		return nil, err
	}

	if r.opts.Features != nil {
		_, span = tracing.StartChildSpan(ctx, "features")
		start = time.Now()
		b.features, hit, err = stage.Fetch(ctx, cache, stage.Key{Dataset: dataset, Version: b.version, Stage: stage.Features}, func(context.Context) (*corpus.Features, error) {
			return corpus.AssembleFeatures(c, r.opts.Features, r.opts.FeatureDim, 0)
		})
		span.SetAttr("cache_hit", hit)
		span.End()
		r.observe("features", start)
		if err != nil {
			return nil, err
		}
	}

	if r.opts.Context != nil {
		ref, err := r.opts.Context.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading context corpus: %w", err)
		}
		b.context = newContext(ref)
	}
	return b, nil
}

func (r *Registry) current() (*base, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.base == nil {
		return nil, apperrors.ErrCorpusNotLoaded
	}
	return r.base, nil
}

// Corpus returns the loaded corpus.
func (r *Registry) Corpus() (*corpus.Corpus, error) {
	b, err := r.current()
	if err != nil {
		return nil, err
	}
	return b.corpus, nil
}

// Resident lists the keys whose indexes are in memory.
func (r *Registry) Resident() []matching.ThresholdKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]matching.ThresholdKey, 0, len(r.resident))
	for _, k := range r.opts.Keys {
		if _, ok := r.resident[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

func (r *Registry) setResident(n int) {
	if r.opts.Metrics != nil {
		r.opts.Metrics.ResidentIndexes.Set(float64(n))
	}
}

// Get returns the snapshot of key, building it when it is not resident.
// Concurrent callers for one key share a build, which runs detached from
// their contexts; each caller stops waiting when its own ctx is done. A
// failed build is returned to every waiter and retried on the next call.
func (r *Registry) Get(ctx context.Context, key matching.ThresholdKey) (*Snapshot, error) {
	key, err := r.Resolve(key)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	snap, ok := r.resident[key]
	r.mu.RUnlock()
	if ok {
		return snap, nil
	}

	buildCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key.ID(), func() (interface{}, error) {
		return r.buildResident(buildCtx, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) buildResident(ctx context.Context, key matching.ThresholdKey) (*Snapshot, error) {
	b, err := r.current()
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	snap, ok := r.resident[key]
	r.mu.RUnlock()
	if ok {
		return snap, nil
	}
	snap, err = r.build(ctx, b, key)
	if err != nil {
		if r.opts.Metrics != nil {
			r.opts.Metrics.BuildsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.BuildsTotal.WithLabelValues("ok").Inc()
	}
	r.mu.Lock()
	// A Reload may have replaced the corpus while this build ran.
	stored := r.base != nil && r.base.generation == b.generation
	if stored {
		r.resident[key] = snap
	}
	n := len(r.resident)
	r.mu.Unlock()
	r.setResident(n)
	if stored && r.opts.OnBuild != nil {
		r.opts.OnBuild(ctx, snap)
	}
	return snap, nil
}

func (r *Registry) build(ctx context.Context, b *base, key matching.ThresholdKey) (*Snapshot, error) {
	ctx = logger.WithThresholdKey(ctx, key.String())
	log := logger.FromContext(ctx).With("component", "registry")
	ctx, span := tracing.StartSpan(ctx, "build", "")
	span.SetAttr("key", key.String())
	defer func() {
		span.End()
		if r.opts.Tracing {
			span.Log(log)
		}
	}()

	cache := r.opts.Cache
	dataset := r.opts.Dataset
	if dataset == "" {
		dataset = b.corpus.Dataset
	}
	stageKey := func(s stage.Stage) stage.Key {
		return stage.Key{Dataset: dataset, Version: b.version, Threshold: key.ID(), Stage: s}
	}

	_, child := tracing.StartChildSpan(ctx, "match")
	start := time.Now()
	table, hit, err := stage.Fetch(ctx, cache, stageKey(stage.Pairs), func(context.Context) (*matching.PairTable, error) {
		return matching.MatchCorpus(b.corpus, key, r.opts.Background)
	})
	child.SetAttr("cache_hit", hit)
	child.End()
	r.observe("match", start)
	if err != nil {
		return nil, fmt.Errorf("matching %s: %w", key, err)
	}
	child.SetAttr("pairs", table.Len())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, child = tracing.StartChildSpan(ctx, "direction")
	start = time.Now()
	dirs, hit, err := stage.Fetch(ctx, cache, stageKey(stage.Directions), func(context.Context) ([]direction.Direction, error) {
		return direction.Classify(table, b.corpus), nil
	})
	child.SetAttr("cache_hit", hit)
	child.End()
	r.observe("direction", start)
	if err != nil {
		return nil, err
	}
	if len(dirs) != len(table.Pairs) {
		return nil, fmt.Errorf("%w: %d directions for %d pairs", apperrors.ErrCorruptEntry, len(dirs), len(table.Pairs))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, child = tracing.StartChildSpan(ctx, "index")
	start = time.Now()
	cols := BuildColumns(b.corpus, b.attrs, table, dirs)
	ix, err := rangeindex.Build(cols, rangeindex.Domains{Categories: b.corpus.Catalog.Len()})
	child.End()
	r.observe("index", start)
	if err != nil {
		return nil, fmt.Errorf("indexing %s: %w", key, err)
	}

	r.recordPairs(key, table)
	log.Info("index built", "pairs", table.Len(), "took", time.Since(span.StartTime).String())
	return &Snapshot{
		Key:        key,
		Version:    b.version,
		Corpus:     b.corpus,
		Attributes: b.attrs,
		Table:      table,
		Directions: dirs,
		Index:      ix,
		Features:   b.features,
		Context:    b.context,
	}, nil
}

func (r *Registry) recordPairs(key matching.ThresholdKey, table *matching.PairTable) {
	if r.opts.Metrics == nil {
		return
	}
	r.opts.Metrics.PairsTotal.WithLabelValues(key.ID()).Set(float64(table.Len()))
	counts := table.CountByType()
	for t, n := range counts {
		r.opts.Metrics.PairsByType.WithLabelValues(key.ID(), matching.ErrorType(t).String()).Set(float64(n))
	}
}

// Warm builds every configured key with bounded parallelism. The first
// failure cancels the remaining builds; keys already built stay resident.
func (r *Registry) Warm(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.WarmConcurrency)
	for _, key := range r.opts.Keys {
		g.Go(func() error {
			_, err := r.Get(ctx, key)
			return err
		})
	}
	return g.Wait()
}

// Reload drops every cached stage of the dataset and reinitialises from the
// loader.
func (r *Registry) Reload(ctx context.Context) error {
	dataset := r.opts.Dataset
	if dataset == "" {
		if b, err := r.current(); err == nil {
			dataset = b.corpus.Dataset
		}
	}
	if err := r.opts.Cache.Invalidate(ctx, dataset); err != nil {
		r.logger.Warn("stage cache invalidation failed", "dataset", dataset, "error", err)
	}
	return r.Init(ctx)
}

// Close releases the resident indexes and the stage cache.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.resident = make(map[matching.ThresholdKey]*Snapshot)
	r.base = nil
	r.mu.Unlock()
	r.setResident(0)
	return r.opts.Cache.Close()
}
