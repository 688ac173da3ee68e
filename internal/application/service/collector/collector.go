package collector

import (
	"context"
	"errors"
	"io"
	"time"

	marketdata "candlekeeper/internal/domain/entity/marketdata"
	interfaces "candlekeeper/internal/domain/interfaces"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidCount  = errors.New("count must be positive")
	ErrInvalidOffset = errors.New("offset must not be negative")
)

// Collector keeps a growing window of candles for one instrument and
// granularity, extending it forward as new candles close and backward as
// readers ask for more history.
//
// A Collector is not safe for concurrent use. Callers sharing one across
// goroutines must serialize access, for example through Synchronized.
type Collector struct {
	key      marketdata.Key
	fetcher  interfaces.CandleFetcher
	settings Settings
	now      func() time.Time
	logger   *logrus.Entry

	window          []marketdata.Candle
	lowest          decimal.Decimal
	highest         decimal.Decimal
	historyComplete bool
	lastRefresh     time.Time
	lastChange      time.Time
	sleepy          bool
}

type Option func(*Collector)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(logger *logrus.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger.WithField("component", "collector")
		}
	}
}

func WithSettings(settings Settings) Option {
	return func(c *Collector) {
		c.settings = settings
	}
}

func New(instrument marketdata.Instrument, granularity marketdata.Granularity, fetcher interfaces.CandleFetcher, opts ...Option) *Collector {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	c := &Collector{
		key:      marketdata.Key{Instrument: instrument, Granularity: granularity},
		fetcher:  fetcher,
		settings: DefaultSettings(),
		now:      time.Now,
		logger:   discard.WithField("component", "collector"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.settings = c.settings.withDefaults()
	c.logger = c.logger.WithFields(logrus.Fields{
		"instrument":  instrument.String(),
		"granularity": granularity.Code,
	})
	return c
}

func (c *Collector) Key() marketdata.Key {
	return c.key
}

// Read returns the most recent count candles, fewer when the source has no
// more history.
func (c *Collector) Read(ctx context.Context, count int) (marketdata.Sequence, error) {
	if count <= 0 {
		return marketdata.Sequence{}, ErrInvalidCount
	}
	return c.read(ctx, 0, count)
}

// ReadOffset returns count candles ending offset candles before the newest
// one. The result does not shift when new candles arrive.
func (c *Collector) ReadOffset(ctx context.Context, offset, count int) (marketdata.Sequence, error) {
	if count <= 0 {
		return marketdata.Sequence{}, ErrInvalidCount
	}
	if offset < 0 {
		return marketdata.Sequence{}, ErrInvalidOffset
	}
	return c.read(ctx, offset, count)
}

func (c *Collector) read(ctx context.Context, offset, count int) (marketdata.Sequence, error) {
	target := offset + count
	if len(c.window) == 0 && c.lastRefresh.IsZero() {
		if err := c.seed(ctx, target); err != nil {
			return marketdata.Sequence{}, err
		}
	}
	if err := c.refreshRecent(ctx); err != nil {
		return marketdata.Sequence{}, err
	}
	if missing := target - len(c.window); missing > 0 && !c.historyComplete {
		if err := c.backfill(ctx, missing); err != nil {
			return marketdata.Sequence{}, err
		}
	}
	return c.slice(offset, count)
}

func (c *Collector) slice(offset, count int) (marketdata.Sequence, error) {
	n := len(c.window)
	hi := max(n-offset, 0)
	lo := max(hi-count, 0)
	return marketdata.NewSequence(c.key.Instrument, c.key.Granularity, c.window[lo:hi])
}

// seed replaces an empty window with the most recent candles.
func (c *Collector) seed(ctx context.Context, target int) error {
	size := clamp(target, c.settings.DefaultCount, c.settings.MaxBatch)
	batch, err := c.fetch(ctx, marketdata.Latest(), size)
	if err != nil {
		return err
	}
	now := c.now()
	c.window = batch
	c.lastRefresh = now
	c.lastChange = now
	c.sleepy = false
	c.recomputeExtremes()
	c.logger.WithField("candles", len(batch)).Debug("seeded window")
	return nil
}

// refreshRecent pulls candles newer than the window end, at most once per
// freshness threshold.
func (c *Collector) refreshRecent(ctx context.Context) error {
	if !c.lastRefresh.IsZero() && c.now().Sub(c.lastRefresh) < c.settings.threshold(c.key.Granularity, c.sleepy) {
		return nil
	}
	if len(c.window) == 0 {
		return c.seed(ctx, c.settings.DefaultCount)
	}

	for {
		last := c.window[len(c.window)-1]
		after := last.Time
		if !last.Complete {
			// ask for the open slot again so it can be replaced
			after--
		}
		batch, err := c.fetch(ctx, marketdata.AfterTime(after), c.settings.MaxBatch)
		if err != nil {
			return err
		}
		now := c.now()
		if len(batch) == 0 {
			// lastRefresh stays put so the next read asks again.
			c.markSilence(now)
			return nil
		}

		changed := c.extend(batch)
		c.lastRefresh = now
		if !changed {
			c.markSilence(now)
			return nil
		}
		if c.sleepy {
			c.logger.Info("source resumed, leaving sleepy state")
		}
		c.sleepy = false
		c.lastChange = now
		c.recomputeExtremes()

		if len(batch) < c.settings.MaxBatch {
			return nil
		}
		c.logger.WithField("end", c.window[len(c.window)-1].Time).Debug("full batch, catching up")
	}
}

// extend appends candles newer than the window end, replacing an incomplete
// tail. It reports whether the window content changed.
func (c *Collector) extend(batch []marketdata.Candle) bool {
	tail := c.window[len(c.window)-1]
	next := c.window
	if !tail.Complete {
		next = c.window[:len(c.window)-1]
	}
	end := marketdata.MinTime
	if len(next) > 0 {
		end = next[len(next)-1].Time
	}

	added := 0
	for _, candle := range batch {
		if candle.Time <= end {
			continue
		}
		next = append(next, candle)
		end = candle.Time
		added++
	}
	if added == 0 {
		return false
	}
	c.window = next
	if !tail.Complete && added == 1 && next[len(next)-1].Equal(tail) {
		return false
	}
	return true
}

func (c *Collector) markSilence(now time.Time) {
	if c.sleepy || now.Sub(c.lastChange) <= c.settings.LongSilence {
		return
	}
	c.sleepy = true
	c.logger.WithField("silent_for", now.Sub(c.lastChange).String()).Info("no new candles, going sleepy")
}

// backfill prepends up to need older candles, stopping for good once the
// source runs out of history.
func (c *Collector) backfill(ctx context.Context, need int) error {
	for need > 0 && !c.historyComplete && len(c.window) > 0 {
		size := clamp(need, c.settings.MinBackfill, c.settings.MaxBatch)
		start := c.window[0].Time
		batch, err := c.fetch(ctx, marketdata.BeforeTime(start), size)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			c.historyComplete = true
			c.logger.WithField("start", start).Info("reached start of history")
			return nil
		}

		older := make([]marketdata.Candle, 0, len(batch))
		for _, candle := range batch {
			if candle.Time < start {
				older = append(older, candle)
			}
		}
		if len(older) == 0 {
			c.logger.WithField("start", start).Warn("backfill returned nothing older than the window")
			return nil
		}
		if last := older[len(older)-1]; !last.Complete {
			return &marketdata.SequenceError{Kind: marketdata.IncompleteNotLast, Index: len(older) - 1, Time: last.Time}
		}

		window := make([]marketdata.Candle, 0, len(older)+len(c.window))
		window = append(window, older...)
		c.window = append(window, c.window...)
		c.recomputeExtremes()
		need -= len(older)
		c.logger.WithFields(logrus.Fields{"added": len(older), "need": need}).Debug("backfilled")
	}
	return nil
}

// fetch returns a validated copy of a batch; fetcher errors pass through
// unchanged.
func (c *Collector) fetch(ctx context.Context, anchor marketdata.Anchor, count int) ([]marketdata.Candle, error) {
	c.logger.WithFields(logrus.Fields{"anchor": anchor.String(), "count": count}).Debug("fetching candles")
	batch, err := c.fetcher.FetchCandles(ctx, c.key.Instrument, c.key.Granularity, anchor, count)
	if err != nil {
		return nil, err
	}
	seq, err := marketdata.NewSequence(c.key.Instrument, c.key.Granularity, batch)
	if err != nil {
		return nil, err
	}
	return seq.Candles(), nil
}

func (c *Collector) recomputeExtremes() {
	if len(c.window) == 0 {
		c.lowest, c.highest = decimal.Decimal{}, decimal.Decimal{}
		return
	}
	lowest, highest := c.window[0].Low(), c.window[0].High()
	for _, candle := range c.window[1:] {
		if low := candle.Low(); low.LessThan(lowest) {
			lowest = low
		}
		if high := candle.High(); high.GreaterThan(highest) {
			highest = high
		}
	}
	c.lowest, c.highest = lowest, highest
}

// Extremes returns the lowest bid low and highest ask high over the whole
// window. ok is false while the window is empty.
func (c *Collector) Extremes() (lowest, highest decimal.Decimal, ok bool) {
	return c.lowest, c.highest, len(c.window) > 0
}

// State describes a collector without exposing its window.
type State struct {
	Instrument      marketdata.Instrument `json:"instrument"`
	Granularity     string                `json:"granularity"`
	Len             int                   `json:"len"`
	Start           marketdata.TimeInt    `json:"start"`
	End             marketdata.TimeInt    `json:"end"`
	Lowest          decimal.Decimal       `json:"lowest"`
	Highest         decimal.Decimal       `json:"highest"`
	HistoryComplete bool                  `json:"history_complete"`
	Sleepy          bool                  `json:"sleepy"`
	LastRefresh     time.Time             `json:"last_refresh"`
}

func (c *Collector) State() State {
	state := State{
		Instrument:      c.key.Instrument,
		Granularity:     c.key.Granularity.Code,
		Len:             len(c.window),
		Start:           marketdata.MaxTime,
		End:             marketdata.MinTime,
		Lowest:          c.lowest,
		Highest:         c.highest,
		HistoryComplete: c.historyComplete,
		Sleepy:          c.sleepy,
		LastRefresh:     c.lastRefresh,
	}
	if len(c.window) > 0 {
		state.Start = c.window[0].Time
		state.End = c.window[len(c.window)-1].Time
	}
	return state
}

// Snapshot copies the whole window into a Sequence without fetching.
func (c *Collector) Snapshot() (marketdata.Sequence, error) {
	return marketdata.NewSequence(c.key.Instrument, c.key.Granularity, c.window)
}

// Restore loads a persisted sequence into the window. An empty window takes
// it as is; otherwise the two are merged and must overlap.
func (c *Collector) Restore(seq marketdata.Sequence) error {
	if seq.Key() != c.key {
		return marketdata.ErrKeyMismatch
	}
	if seq.IsEmpty() {
		return nil
	}
	current, err := c.Snapshot()
	if err != nil {
		return err
	}
	merged, err := marketdata.Merge(current, seq)
	if err != nil {
		return err
	}
	c.window = merged.Candles()
	if c.lastChange.IsZero() {
		c.lastChange = c.now()
	}
	c.recomputeExtremes()
	c.logger.WithField("candles", merged.Len()).Info("restored window")
	return nil
}
