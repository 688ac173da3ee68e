package collector

import (
	"time"

	marketdata "candlekeeper/internal/domain/entity/marketdata"
)

const (
	DefaultCount        = 500
	DefaultMaxBatch     = 5000
	DefaultMinBackfill  = 500
	DefaultSleepyFactor = 2
	DefaultLongSilence  = 300 * time.Second
)

// Settings tunes how a Collector talks to its fetcher. Zero fields fall back
// to the package defaults.
type Settings struct {
	// DefaultCount is the size of the first fetch for an empty window.
	DefaultCount int
	// MaxBatch is the provider's per-request candle limit.
	MaxBatch int
	// MinBackfill is the smallest batch requested when extending backwards.
	MinBackfill int
	// Freshness overrides the granularity's refresh threshold when positive.
	Freshness time.Duration
	// SleepyFactor stretches the refresh threshold while the source is quiet.
	SleepyFactor int
	// LongSilence is how long the window may stay unchanged before the
	// collector goes sleepy.
	LongSilence time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		DefaultCount: DefaultCount,
		MaxBatch:     DefaultMaxBatch,
		MinBackfill:  DefaultMinBackfill,
		SleepyFactor: DefaultSleepyFactor,
		LongSilence:  DefaultLongSilence,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.DefaultCount <= 0 {
		s.DefaultCount = def.DefaultCount
	}
	if s.MaxBatch <= 0 {
		s.MaxBatch = def.MaxBatch
	}
	if s.MinBackfill <= 0 {
		s.MinBackfill = def.MinBackfill
	}
	if s.MinBackfill > s.MaxBatch {
		s.MinBackfill = s.MaxBatch
	}
	if s.DefaultCount > s.MaxBatch {
		s.DefaultCount = s.MaxBatch
	}
	if s.SleepyFactor <= 0 {
		s.SleepyFactor = def.SleepyFactor
	}
	if s.LongSilence <= 0 {
		s.LongSilence = def.LongSilence
	}
	return s
}

func (s Settings) threshold(g marketdata.Granularity, sleepy bool) time.Duration {
	threshold := s.Freshness
	if threshold <= 0 {
		threshold = g.FreshnessThreshold()
	}
	if sleepy {
		threshold *= time.Duration(s.SleepyFactor)
	}
	return threshold
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
