package config

import (
	"path/filepath"
	"testing"
	"time"

	"candlekeeper/internal/application/service/collector"
	marketdata "candlekeeper/internal/domain/entity/marketdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("OANDA_TOKEN", "token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, "practice", cfg.Oanda.Environment)
	assert.Equal(t, 10*time.Second, cfg.Oanda.Timeout)
	assert.Equal(t, CollectorConfig{
		DefaultCount: 500,
		MaxBatch:     5000,
		MinBackfill:  500,
		SleepyFactor: 2,
		LongSilence:  300 * time.Second,
	}, cfg.Collector)
	assert.Equal(t, collector.DefaultSettings(), cfg.Collector.Settings())
	assert.Equal(t, filepath.Join(home, ".candlekeeper", "candle_data"), cfg.Bank.Dir)
	assert.Equal(t, filepath.Join(home, ".candlekeeper", "candle_data", "candles.db"), cfg.Bank.Path())
	assert.Equal(t, []string{"EUR_USD"}, cfg.Feed.Instruments)
	assert.Empty(t, cfg.Postgres.DSN)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.RabbitMQ.URL)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OANDA_TOKEN", "token")
	t.Setenv("OANDA_ENVIRONMENT", "live")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("COLLECTOR_MAX_BATCH", "1000")
	t.Setenv("COLLECTOR_LONG_SILENCE", "10m")
	t.Setenv("COLLECTOR_FRESHNESS", "15")
	t.Setenv("INSTRUMENTS", "EUR_USD, USD_JPY ,")
	t.Setenv("GRANULARITIES", "M5")
	t.Setenv("BANK_DIR", "/var/lib/candles")
	t.Setenv("BATCH_TIMEOUT", "500ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "live", cfg.Oanda.Environment)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 1000, cfg.Collector.MaxBatch)
	assert.Equal(t, 10*time.Minute, cfg.Collector.LongSilence)
	assert.Equal(t, 15*time.Second, cfg.Collector.Freshness)
	assert.Equal(t, []string{"EUR_USD", "USD_JPY"}, cfg.Feed.Instruments)
	assert.Equal(t, []string{"M5"}, cfg.Feed.Granularities)
	assert.Equal(t, "/var/lib/candles", cfg.Bank.Dir)
	assert.Equal(t, 500*time.Millisecond, cfg.RabbitMQ.BatchTimeout)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "missing token", env: map[string]string{"OANDA_TOKEN": ""}, want: "OANDA_TOKEN is required"},
		{name: "bad port", env: map[string]string{"OANDA_TOKEN": "x", "HTTP_PORT": "http"}, want: "parse HTTP_PORT"},
		{name: "bad environment", env: map[string]string{"OANDA_TOKEN": "x", "OANDA_ENVIRONMENT": "sandbox"}, want: "OANDA_ENVIRONMENT"},
		{name: "bad duration", env: map[string]string{"OANDA_TOKEN": "x", "FEED_POLL_INTERVAL": "soon"}, want: "parse FEED_POLL_INTERVAL"},
		{name: "zero batch", env: map[string]string{"OANDA_TOKEN": "x", "COLLECTOR_MAX_BATCH": "0"}, want: "batch sizes must be positive"},
		{name: "batch over upstream limit", env: map[string]string{"OANDA_TOKEN": "x", "COLLECTOR_MAX_BATCH": "5001"}, want: "exceeds the upstream limit of 5000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFeedKeys(t *testing.T) {
	keys, err := FeedConfig{Instruments: []string{"eur/usd", "USD_JPY"}, Granularities: []string{"M1", "D"}}.Keys()
	require.NoError(t, err)
	assert.Equal(t, []marketdata.Key{
		{Instrument: "EUR_USD", Granularity: marketdata.M1},
		{Instrument: "EUR_USD", Granularity: marketdata.D},
		{Instrument: "USD_JPY", Granularity: marketdata.M1},
		{Instrument: "USD_JPY", Granularity: marketdata.D},
	}, keys)

	_, err = FeedConfig{Instruments: []string{"EUR_USD"}, Granularities: []string{"H5"}}.Keys()
	assert.ErrorIs(t, err, marketdata.ErrUnknownGranularity)
	_, err = FeedConfig{Instruments: []string{"EURUSD"}, Granularities: []string{"H1"}}.Keys()
	assert.ErrorIs(t, err, marketdata.ErrInvalidInstrument)
}
