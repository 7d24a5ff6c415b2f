package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/analysis/store"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/matching"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/stage"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/postgres"
)

// adminRequestsPerMinute caps each corpus-wide admin operation.
const adminRequestsPerMinute = 6

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	keys := engine.KeysFromConfig(cfg)
	defaultIoU, defaultConf := cfg.DefaultKey()
	defaultKey := matching.ThresholdKey{IoU: defaultIoU, Conf: defaultConf}
	slog.Info("starting evaluator",
		"dataset", cfg.Corpus.Dataset,
		"root", cfg.Corpus.RootDir,
		"segmentation", cfg.Corpus.Segmentation,
		"keys", len(keys),
		"default_key", defaultKey.String(),
		"cache_backend", cfg.Cache.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer shutdownMetrics(context.Background())
	}

	backend, err := stage.Open(cfg.Cache, cfg.Redis)
	if err != nil {
		slog.Error("failed to open stage cache", "backend", cfg.Cache.Backend, "error", err)
		os.Exit(1)
	}
	cache := stage.NewCache(backend, cfg.Cache.TTL, m)

	var notifier *events.Notifier
	if cfg.Kafka.Enabled {
		notifier = events.NewNotifier(kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexBuilt), 0)
		go notifier.Run(ctx)
		defer notifier.Close()
		slog.Info("index-built notifier started", "topic", cfg.Kafka.Topics.IndexBuilt)
	}

	registry, err := engine.New(registryOptions(cfg, keys, cache, m, notifier))
	if err != nil {
		slog.Error("failed to create registry", "error", err)
		os.Exit(1)
	}
	defer registry.Close()
	if err := registry.Init(ctx); err != nil {
		slog.Error("failed to load corpus", "error", err)
		os.Exit(1)
	}
	if cfg.Matching.WarmOnStart {
		go func() {
			if err := registry.Warm(ctx); err != nil {
				slog.Error("warm-up failed", "error", err)
				return
			}
			slog.Info("all threshold keys resident", "keys", len(keys))
		}()
	}

	analyzer := analysis.New(registry, analysis.SettingsFromConfig(cfg.Query), m)

	var (
		db     *postgres.Client
		slices *store.Store
	)
	if cfg.Postgres.Enabled {
		db, err = postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, slice reports will not be persisted", "error", err)
		} else {
			defer db.Close()
			slices = store.New(db)
			if err := slices.Migrate(ctx); err != nil {
				slog.Error("failed to migrate slice store", "error", err)
				os.Exit(1)
			}
		}
	}

	var corpusEvents kafka.Publisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CorpusChanged)
		defer producer.Close()
		corpusEvents = producer

		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CorpusChanged, events.HandleCorpusChanged(registry, events.HandlerOptions{
			Dataset: cfg.Corpus.Dataset,
			Warm:    cfg.Matching.WarmOnStart,
			Metrics: m,
		}))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("corpus event consumer error", "error", err)
			}
		}()
		slog.Info("corpus event consumer started", "topic", cfg.Kafka.Topics.CorpusChanged)
	}

	checker := health.NewChecker(2 * time.Second)
	checker.Register("corpus", func(ctx context.Context) health.ComponentHealth {
		c, err := registry.Corpus()
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d images", len(c.Images))}
	})
	checker.Register("resident_indexes", health.DegradedUnless(func() bool {
		return len(registry.Resident()) > 0
	}, "no threshold key built yet"))
	if p, ok := backend.(interface{ Ping(context.Context) error }); ok {
		checker.RegisterOptional("stage_cache", health.PingCheck(p.Ping))
	}
	if db != nil {
		checker.RegisterOptional("postgres", health.PingCheck(db.Ping))
	}
	if cfg.Kafka.Enabled {
		checker.RegisterOptional("kafka", health.PingCheck(func(ctx context.Context) error {
			return kafka.Ping(ctx, cfg.Kafka.Brokers)
		}))
	}

	h := &opsHandler{
		registry:   registry,
		analyzer:   analyzer,
		publisher:  corpusEvents,
		dataset:    cfg.Corpus.Dataset,
		defaultKey: defaultKey,
	}
	if slices != nil {
		h.reports = slices
	}

	limiter := middleware.NewLimiter(time.Minute)
	adminLimit := middleware.RateLimit(limiter, adminRequestsPerMinute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/keys", h.Keys)
	mux.Handle("POST /admin/reload", adminLimit(http.HandlerFunc(h.Reload)))
	mux.Handle("POST /admin/slices", adminLimit(http.HandlerFunc(h.MineSlices)))
	mux.HandleFunc("GET /admin/slices", h.LatestSlices)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("evaluator ops endpoints listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	if notifier != nil {
		notifier.Wait()
	}
	slog.Info("evaluator stopped")
}

func registryOptions(cfg *config.Config, keys []matching.ThresholdKey, cache *stage.Cache, m *metrics.Metrics, notifier *events.Notifier) engine.Options {
	opts := engine.Options{
		Dataset:         cfg.Corpus.Dataset,
		Keys:            keys,
		Background:      cfg.Matching.BackgroundIoU,
		WarmConcurrency: cfg.Matching.WarmConcurrency,
		Loader:          corpus.NewDirLoader(cfg.Corpus.RootDir, cfg.Corpus.Dataset, cfg.Corpus.Segmentation),
		Cache:           cache,
		Metrics:         m,
		Tracing:         cfg.Tracing.Enabled,
	}
	if cfg.Corpus.ContextDir != "" {
		opts.Context = corpus.NewDirLoader(cfg.Corpus.ContextDir, cfg.Corpus.Dataset+"-context", cfg.Corpus.Segmentation)
	}
	if cfg.Corpus.FeatureDim > 0 {
		opts.Features = corpus.FeatureDir{Root: cfg.Corpus.RootDir}
		opts.FeatureDim = cfg.Corpus.FeatureDim
	}
	if notifier != nil {
		opts.OnBuild = notifier.Notify
	}
	return opts
}
