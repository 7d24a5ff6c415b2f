package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/matching"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/rangeindex"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/metrics"
)

type staticLoader struct{ c *corpus.Corpus }

func (l staticLoader) Load(context.Context) (*corpus.Corpus, error) { return l.c, nil }

func main() {
	configPath := flag.String("config", "", "config file; when set the corpus is read from corpus.rootDir")
	images := flag.Int("images", 5000, "synthetic corpus size when no config is given")
	categories := flag.Int("categories", 20, "synthetic corpus category count")
	seed := flag.Uint64("seed", 1, "synthetic corpus seed")
	concurrency := flag.Int("concurrency", 4, "number of concurrent dragging clients")
	duration := flag.Duration("duration", 20*time.Second, "test duration")
	steps := flag.Int("steps", 40, "slider positions per drag")
	width := flag.Float64("width", 0.2, "slider window width")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup("warn", "text")

	var loader corpus.Loader
	dataset := cfg.Corpus.Dataset
	if *configPath != "" {
		loader = corpus.NewDirLoader(cfg.Corpus.RootDir, dataset, cfg.Corpus.Segmentation)
	} else {
		c := syntheticCorpus(*seed, *images, *categories)
		loader = staticLoader{c}
		dataset = c.Dataset
	}

	iou, conf := cfg.DefaultKey()
	key := matching.ThresholdKey{IoU: iou, Conf: conf}
	m := metrics.New(prometheus.NewRegistry())
	registry, err := engine.New(engine.Options{
		Dataset:    dataset,
		Keys:       []matching.ThresholdKey{key},
		Background: cfg.Matching.BackgroundIoU,
		Loader:     loader,
		Metrics:    m,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create registry: %v\n", err)
		os.Exit(1)
	}
	defer registry.Close()

	ctx := context.Background()
	start := time.Now()
	if err := registry.Init(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load corpus: %v\n", err)
		os.Exit(1)
	}
	snap, err := registry.Get(ctx, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build index: %v\n", err)
		os.Exit(1)
	}
	buildTime := time.Since(start)

	fmt.Println("=== Query Bench ===")
	fmt.Printf("Key:         %s\n", key)
	fmt.Printf("Images:      %d\n", len(snap.Corpus.Images))
	fmt.Printf("Pairs:       %d\n", snap.Table.Len())
	fmt.Printf("Build:       %s\n", buildTime)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Duration:    %s\n", *duration)
	fmt.Println()

	an := analysis.New(registry, analysis.SettingsFromConfig(cfg.Query), m)
	stats := run(ctx, an, key, *concurrency, *duration, *steps, *width)
	printReport(stats)
}

// run has each worker drag a slider over one continuous attribute and issue
// every query shape at each position, the way a linked-view client refreshes.
func run(ctx context.Context, an *analysis.Analyzer, key matching.ThresholdKey, concurrency int, d time.Duration, steps int, width float64) *Stats {
	stats := NewStats()
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			attr := rangeindex.ContinuousAttrs[worker%len(rangeindex.ContinuousAttrs)]
			drag := dragSteps(attr, width, steps)
			for i := 0; ; i++ {
				// Back and forth like a real drag.
				pos := i % (2 * len(drag))
				if pos >= len(drag) {
					pos = 2*len(drag) - 1 - pos
				}
				for _, shape := range shapes {
					if ctx.Err() != nil {
						return
					}
					start := time.Now()
					err := runShape(ctx, an, key, drag[pos], shape)
					stats.Record(shape, time.Since(start), err)
				}
			}
		}(w)
	}
	wg.Wait()
	return stats
}

func printReport(stats *Stats) {
	fmt.Println("=== Latency ===")
	fmt.Printf("%-13s %8s %6s %12s %12s %12s %12s %12s\n", "shape", "count", "errors", "mean", "p50", "p90", "p99", "max")
	for _, s := range stats.Summaries() {
		fmt.Printf("%-13s %8d %6d %12s %12s %12s %12s %12s\n",
			s.Shape, s.Count, s.Errors,
			seconds(s.Mean), seconds(s.P50), seconds(s.P90), seconds(s.P99), seconds(s.Max))
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second)).Round(time.Microsecond)
}
