package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"candlekeeper/internal/application/service/collector"
	marketdata "candlekeeper/internal/domain/entity/marketdata"
	"candlekeeper/internal/infrastructure/oanda"

	"github.com/joho/godotenv"
)

const (
	defaultEnv               = "development"
	defaultHTTPHost          = "0.0.0.0"
	defaultHTTPPort          = 8080
	defaultRedisDB           = 0
	defaultCacheTTLSeconds   = 30
	defaultSnapshotTTL       = 24 * time.Hour
	defaultOandaEnvironment  = "practice"
	defaultOandaTimeout      = 10 * time.Second
	defaultDefaultCount      = 500
	defaultMaxBatch          = 5000
	defaultMinBackfill       = 500
	defaultSleepyFactor      = 2
	defaultLongSilence       = 300 * time.Second
	defaultCandlesExchange   = "candlekeeper.candles"
	defaultRabbitPrefetch    = 50
	defaultBatchSize         = 200
	defaultBatchTimeout      = 2 * time.Second
	defaultPollInterval      = 5 * time.Second
	defaultPersistInterval   = 5 * time.Minute
	defaultFeedDepth         = 50
	defaultBackfillDepth     = 5000
	defaultLogLevel          = "info"
	defaultBankDirectoryName = ".candlekeeper"
)

// Config keeps the runtime configuration for the service.
type Config struct {
	Env       string
	HTTP      HTTPConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Oanda     OandaConfig
	Collector CollectorConfig
	Bank      BankConfig
	RabbitMQ  RabbitMQConfig
	Feed      FeedConfig
	LogLevel  string
}

// HTTPConfig holds HTTP server related settings.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr renders the listen address in host:port form.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// PostgresConfig stores database connection parameters. An empty DSN turns
// the Postgres store off.
type PostgresConfig struct {
	DSN string
}

// RedisConfig stores Redis connection parameters. An empty Addr turns Redis off.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig stores cache behavior.
type CacheConfig struct {
	TTLSeconds  int
	SnapshotTTL time.Duration
}

// OandaConfig points the candle fetcher at the API.
type OandaConfig struct {
	Token       string
	Environment string
	BaseURL     string
	Timeout     time.Duration
}

// CollectorConfig mirrors collector.Settings.
type CollectorConfig struct {
	DefaultCount int
	MaxBatch     int
	MinBackfill  int
	Freshness    time.Duration
	SleepyFactor int
	LongSilence  time.Duration
}

func (c CollectorConfig) Settings() collector.Settings {
	return collector.Settings{
		DefaultCount: c.DefaultCount,
		MaxBatch:     c.MaxBatch,
		MinBackfill:  c.MinBackfill,
		Freshness:    c.Freshness,
		SleepyFactor: c.SleepyFactor,
		LongSilence:  c.LongSilence,
	}
}

// BankConfig locates the local sqlite candle bank. An empty Dir turns it off.
type BankConfig struct {
	Dir string
}

// Path is the sqlite file inside Dir.
func (b BankConfig) Path() string {
	return filepath.Join(b.Dir, "candles.db")
}

// RabbitMQConfig stores broker settings. An empty URL turns messaging off.
type RabbitMQConfig struct {
	URL             string
	CandlesExchange string
	Prefetch        int
	BatchSize       int
	BatchTimeout    time.Duration
}

// FeedConfig lists the series the commands keep warm.
type FeedConfig struct {
	Instruments     []string
	Granularities   []string
	PollInterval    time.Duration
	PersistInterval time.Duration
	Depth           int
	BackfillDepth   int
}

// Keys crosses the configured instruments with the configured granularities.
func (f FeedConfig) Keys() ([]marketdata.Key, error) {
	keys := make([]marketdata.Key, 0, len(f.Instruments)*len(f.Granularities))
	for _, rawInstrument := range f.Instruments {
		instrument, err := marketdata.ParseInstrument(rawInstrument)
		if err != nil {
			return nil, fmt.Errorf("parse INSTRUMENTS: %w", err)
		}
		for _, rawGranularity := range f.Granularities {
			granularity, err := marketdata.ParseGranularity(rawGranularity)
			if err != nil {
				return nil, fmt.Errorf("parse GRANULARITIES: %w", err)
			}
			keys = append(keys, marketdata.Key{Instrument: instrument, Granularity: granularity})
		}
	}
	return keys, nil
}

// Load builds Config from environment variables, reading an optional .env
// file first. Variables already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	host := getString("HTTP_HOST", defaultHTTPHost)
	port, err := getInt("HTTP_PORT", defaultHTTPPort)
	if err != nil {
		return nil, fmt.Errorf("parse HTTP_PORT: %w", err)
	}

	redisDB, err := getInt("REDIS_DB", defaultRedisDB)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_DB: %w", err)
	}

	cacheTTL, err := getInt("CACHE_TTL_SECONDS", defaultCacheTTLSeconds)
	if err != nil {
		return nil, fmt.Errorf("parse CACHE_TTL_SECONDS: %w", err)
	}
	snapshotTTL, err := getDuration("SNAPSHOT_TTL", defaultSnapshotTTL)
	if err != nil {
		return nil, fmt.Errorf("parse SNAPSHOT_TTL: %w", err)
	}

	oandaCfg, err := loadOanda()
	if err != nil {
		return nil, err
	}
	collector, err := loadCollector()
	if err != nil {
		return nil, err
	}
	rabbit, err := loadRabbitMQ()
	if err != nil {
		return nil, err
	}
	feed, err := loadFeed()
	if err != nil {
		return nil, err
	}
	bankDir, err := defaultBankDir()
	if err != nil {
		return nil, err
	}

	return &Config{
		Env:  getString("APP_ENV", defaultEnv),
		HTTP: HTTPConfig{Host: host, Port: port},
		Postgres: PostgresConfig{
			DSN: os.Getenv("DATABASE_DSN"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Cache: CacheConfig{
			TTLSeconds:  cacheTTL,
			SnapshotTTL: snapshotTTL,
		},
		Oanda:     oandaCfg,
		Collector: collector,
		Bank:      BankConfig{Dir: getString("BANK_DIR", bankDir)},
		RabbitMQ:  rabbit,
		Feed:      feed,
		LogLevel:  getString("LOG_LEVEL", defaultLogLevel),
	}, nil
}

func loadOanda() (OandaConfig, error) {
	token := strings.TrimSpace(os.Getenv("OANDA_TOKEN"))
	if token == "" {
		return OandaConfig{}, errors.New("OANDA_TOKEN is required")
	}
	timeout, err := getDuration("OANDA_TIMEOUT", defaultOandaTimeout)
	if err != nil {
		return OandaConfig{}, fmt.Errorf("parse OANDA_TIMEOUT: %w", err)
	}
	env := getString("OANDA_ENVIRONMENT", defaultOandaEnvironment)
	if env != "practice" && env != "live" {
		return OandaConfig{}, fmt.Errorf("OANDA_ENVIRONMENT must be practice or live, got %q", env)
	}
	return OandaConfig{
		Token:       token,
		Environment: env,
		BaseURL:     os.Getenv("OANDA_BASE_URL"),
		Timeout:     timeout,
	}, nil
}

func loadCollector() (CollectorConfig, error) {
	var (
		cfg CollectorConfig
		err error
	)
	if cfg.DefaultCount, err = getInt("COLLECTOR_DEFAULT_COUNT", defaultDefaultCount); err != nil {
		return cfg, fmt.Errorf("parse COLLECTOR_DEFAULT_COUNT: %w", err)
	}
	if cfg.MaxBatch, err = getInt("COLLECTOR_MAX_BATCH", defaultMaxBatch); err != nil {
		return cfg, fmt.Errorf("parse COLLECTOR_MAX_BATCH: %w", err)
	}
	if cfg.MinBackfill, err = getInt("COLLECTOR_MIN_BACKFILL", defaultMinBackfill); err != nil {
		return cfg, fmt.Errorf("parse COLLECTOR_MIN_BACKFILL: %w", err)
	}
	if cfg.Freshness, err = getDuration("COLLECTOR_FRESHNESS", 0); err != nil {
		return cfg, fmt.Errorf("parse COLLECTOR_FRESHNESS: %w", err)
	}
	if cfg.SleepyFactor, err = getInt("COLLECTOR_SLEEPY_FACTOR", defaultSleepyFactor); err != nil {
		return cfg, fmt.Errorf("parse COLLECTOR_SLEEPY_FACTOR: %w", err)
	}
	if cfg.LongSilence, err = getDuration("COLLECTOR_LONG_SILENCE", defaultLongSilence); err != nil {
		return cfg, fmt.Errorf("parse COLLECTOR_LONG_SILENCE: %w", err)
	}
	if cfg.MaxBatch <= 0 || cfg.DefaultCount <= 0 || cfg.MinBackfill <= 0 {
		return cfg, errors.New("collector batch sizes must be positive")
	}
	if cfg.MaxBatch > oanda.MaxCount {
		return cfg, fmt.Errorf("COLLECTOR_MAX_BATCH %d exceeds the upstream limit of %d candles", cfg.MaxBatch, oanda.MaxCount)
	}
	return cfg, nil
}

func loadRabbitMQ() (RabbitMQConfig, error) {
	prefetch, err := getInt("RABBITMQ_PREFETCH", defaultRabbitPrefetch)
	if err != nil {
		return RabbitMQConfig{}, fmt.Errorf("parse RABBITMQ_PREFETCH: %w", err)
	}
	batchSize, err := getInt("BATCH_SIZE", defaultBatchSize)
	if err != nil {
		return RabbitMQConfig{}, fmt.Errorf("parse BATCH_SIZE: %w", err)
	}
	batchTimeout, err := getDuration("BATCH_TIMEOUT", defaultBatchTimeout)
	if err != nil {
		return RabbitMQConfig{}, fmt.Errorf("parse BATCH_TIMEOUT: %w", err)
	}
	return RabbitMQConfig{
		URL:             os.Getenv("RABBITMQ_URL"),
		CandlesExchange: getString("RABBITMQ_CANDLES_EXCHANGE", defaultCandlesExchange),
		Prefetch:        prefetch,
		BatchSize:       batchSize,
		BatchTimeout:    batchTimeout,
	}, nil
}

func loadFeed() (FeedConfig, error) {
	poll, err := getDuration("FEED_POLL_INTERVAL", defaultPollInterval)
	if err != nil {
		return FeedConfig{}, fmt.Errorf("parse FEED_POLL_INTERVAL: %w", err)
	}
	persist, err := getDuration("PERSIST_INTERVAL", defaultPersistInterval)
	if err != nil {
		return FeedConfig{}, fmt.Errorf("parse PERSIST_INTERVAL: %w", err)
	}
	depth, err := getInt("FEED_DEPTH", defaultFeedDepth)
	if err != nil {
		return FeedConfig{}, fmt.Errorf("parse FEED_DEPTH: %w", err)
	}
	backfill, err := getInt("BACKFILL_DEPTH", defaultBackfillDepth)
	if err != nil {
		return FeedConfig{}, fmt.Errorf("parse BACKFILL_DEPTH: %w", err)
	}
	return FeedConfig{
		Instruments:     getList("INSTRUMENTS", []string{"EUR_USD"}),
		Granularities:   getList("GRANULARITIES", []string{"M1", "H1"}),
		PollInterval:    poll,
		PersistInterval: persist,
		Depth:           depth,
		BackfillDepth:   backfill,
	}, nil
}

func defaultBankDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, defaultBankDirectoryName, "candle_data"), nil
}

func getString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to int: %w", key, value, err)
	}
	return parsed, nil
}

// getDuration accepts Go durations ("90s") or bare seconds ("90").
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to duration: %w", key, value, err)
	}
	return parsed, nil
}

func getList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
