// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Corpus, Matching, Query, Cache, Postgres, Kafka, Redis, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Corpus   CorpusConfig   `yaml:"corpus"`
	Matching MatchingConfig `yaml:"matching"`
	Query    QueryConfig    `yaml:"query"`
	Cache    CacheConfig    `yaml:"cache"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings for the ops endpoints.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// CorpusConfig locates the raw evaluation corpus.
//
// The root directory follows the layout images/, labels/, predicts/,
// pr_features/, gt_features/ and meta.json.
type CorpusConfig struct {
	RootDir      string `yaml:"rootDir"`
	Dataset      string `yaml:"dataset"`
	Segmentation bool   `yaml:"segmentation"`
	FeatureDim   int    `yaml:"featureDim"`
	ContextDir   string `yaml:"contextDir"`
}

// MatchingConfig lists the threshold combinations that get a pair table and
// an index, plus the key used when a query names none.
type MatchingConfig struct {
	IoUThresholds       []float64 `yaml:"iouThresholds"`
	ConfThresholds      []float64 `yaml:"confThresholds"`
	BackgroundIoU       float64   `yaml:"backgroundIoU"`
	DefaultIoU          float64   `yaml:"defaultIoU"`
	DefaultIoUSegmented float64   `yaml:"defaultIoUSegmented"`
	DefaultConf         float64   `yaml:"defaultConf"`
	WarmConcurrency     int       `yaml:"warmConcurrency"`
	WarmOnStart         bool      `yaml:"warmOnStart"`
}

// QueryConfig controls histogram resolution and slice mining bounds.
type QueryConfig struct {
	HistogramBins   int     `yaml:"histogramBins"`
	ZoomBins        int     `yaml:"zoomBins"`
	SliceBins       int     `yaml:"sliceBins"`
	SliceMinSupport float64 `yaml:"sliceMinSupport"`
	SliceMaxLength  int     `yaml:"sliceMaxLength"`
	SliceMinPairs   int     `yaml:"sliceMinPairs"`
	SliceMinCount   int     `yaml:"sliceMinCount"`
}

// CacheConfig selects the persistent stage store backend.
type CacheConfig struct {
	Backend string        `yaml:"backend"`
	Dir     string        `yaml:"dir"`
	Path    string        `yaml:"path"`
	TTL     time.Duration `yaml:"ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	CorpusChanged string `yaml:"corpusChanged"`
	IndexBuilt    string `yaml:"indexBuilt"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls build-phase span logging.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sampleRate"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot serve.
func (c *Config) Validate() error {
	if len(c.Matching.IoUThresholds) == 0 {
		return fmt.Errorf("matching.iouThresholds must not be empty")
	}
	if len(c.Matching.ConfThresholds) == 0 {
		return fmt.Errorf("matching.confThresholds must not be empty")
	}
	for _, v := range c.Matching.IoUThresholds {
		if v <= 0 || v > 1 {
			return fmt.Errorf("matching.iouThresholds: %v outside (0, 1]", v)
		}
	}
	for _, v := range c.Matching.ConfThresholds {
		if v < 0 || v >= 1 {
			return fmt.Errorf("matching.confThresholds: %v outside [0, 1)", v)
		}
	}
	if c.Query.HistogramBins <= 0 || c.Query.ZoomBins <= 0 {
		return fmt.Errorf("query bins must be positive")
	}
	switch c.Cache.Backend {
	case "memory", "file", "redis", "sqlite":
	default:
		return fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend)
	}
	return nil
}

// DefaultKey returns the thresholds used when a query names none.
func (c *Config) DefaultKey() (iou, conf float64) {
	iou = c.Matching.DefaultIoU
	if c.Corpus.Segmentation {
		iou = c.Matching.DefaultIoUSegmented
	}
	return iou, c.Matching.DefaultConf
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Corpus: CorpusConfig{
			RootDir:    "data/coco",
			Dataset:    "coco",
			FeatureDim: 256,
		},
		Matching: MatchingConfig{
			IoUThresholds:       []float64{0.5, 0.75},
			ConfThresholds:      []float64{0.1},
			BackgroundIoU:       0.1,
			DefaultIoU:          0.75,
			DefaultIoUSegmented: 0.5,
			DefaultConf:         0.1,
			WarmConcurrency:     2,
			WarmOnStart:         true,
		},
		Query: QueryConfig{
			HistogramBins:   100,
			ZoomBins:        50,
			SliceBins:       10,
			SliceMinSupport: 0.1,
			SliceMaxLength:  3,
			SliceMinPairs:   100,
			SliceMinCount:   50,
		},
		Cache: CacheConfig{
			Backend: "file",
			Dir:     "buffer",
			Path:    "buffer/stages.db",
			TTL:     24 * time.Hour,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "detectionanalytics",
			User:            "detectionanalytics",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "detection-analytics",
			Topics: KafkaTopics{
				CorpusChanged: "corpus.changed",
				IndexBuilt:    "index.built",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads DEA_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEA_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DEA_CORPUS_ROOT"); v != "" {
		cfg.Corpus.RootDir = v
	}
	if v := os.Getenv("DEA_CORPUS_DATASET"); v != "" {
		cfg.Corpus.Dataset = v
	}
	if v := os.Getenv("DEA_CORPUS_SEGMENTATION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Corpus.Segmentation = b
		}
	}
	if v := os.Getenv("DEA_MATCHING_IOU_THRESHOLDS"); v != "" {
		if list, err := parseFloatList(v); err == nil {
			cfg.Matching.IoUThresholds = list
		}
	}
	if v := os.Getenv("DEA_MATCHING_CONF_THRESHOLDS"); v != "" {
		if list, err := parseFloatList(v); err == nil {
			cfg.Matching.ConfThresholds = list
		}
	}
	if v := os.Getenv("DEA_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("DEA_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("DEA_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("DEA_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("DEA_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("DEA_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("DEA_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("DEA_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("DEA_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DEA_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DEA_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DEA_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func parseFloatList(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", p, err)
		}
		out = append(out, f)
	}
	return out, nil
}
