package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "candlekeeper/internal/domain/entity/marketdata"

	"github.com/sirupsen/logrus"
)

// CandleSink receives flushed candles grouped by series.
type CandleSink interface {
	UpsertCandles(ctx context.Context, instrument domain.Instrument, granularity domain.Granularity, candles []domain.Candle) error
}

// BatchConfig controls batching thresholds for candle ingestion.
type BatchConfig struct {
	Size    int
	Timeout time.Duration
}

type keyedCandle struct {
	key    domain.Key
	candle domain.Candle
}

// BatchWriter buffers consumed candles and writes them to the sink once the
// buffer is full or the timeout fires.
type BatchWriter struct {
	candles *batchBuffer[keyedCandle]
}

func NewBatchWriter(cfg BatchConfig, sink CandleSink, logger *logrus.Logger) *BatchWriter {
	componentLogger := logger.WithField("component", "batch_writer")
	return &BatchWriter{
		candles: newBatchBuffer(cfg, func(ctx context.Context, batch []keyedCandle) error {
			return flushCandles(ctx, sink, batch)
		}, componentLogger),
	}
}

// Run sets the base context for timer driven flushes.
func (b *BatchWriter) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	b.candles.setContext(ctx)
}

// Stop flushes whatever is still buffered using ctx.
func (b *BatchWriter) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	b.candles.setContext(ctx)
	return b.candles.drain(ctx)
}

func (b *BatchWriter) Add(msg CandleMessage) error {
	key, err := msg.Key()
	if err != nil {
		return err
	}
	return b.candles.enqueue(keyedCandle{key: key, candle: *msg.Candle})
}

// flushCandles writes one UpsertCandles call per series, in order of first
// appearance in the batch.
func flushCandles(ctx context.Context, sink CandleSink, batch []keyedCandle) error {
	var (
		order  []domain.Key
		groups = make(map[domain.Key][]domain.Candle)
	)
	for _, item := range batch {
		if _, ok := groups[item.key]; !ok {
			order = append(order, item.key)
		}
		groups[item.key] = append(groups[item.key], item.candle)
	}
	var errs []error
	for _, key := range order {
		if err := sink.UpsertCandles(ctx, key.Instrument, key.Granularity, groups[key]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type batchBuffer[T any] struct {
	cfg     BatchConfig
	mu      sync.Mutex
	items   []T
	timer   *time.Timer
	flushFn func(context.Context, []T) error
	logger  *logrus.Entry
	ctx     context.Context
}

func newBatchBuffer[T any](cfg BatchConfig, flushFn func(context.Context, []T) error, logger *logrus.Entry) *batchBuffer[T] {
	return &batchBuffer[T]{
		cfg:     cfg,
		flushFn: flushFn,
		logger:  logger,
	}
}

func (bb *batchBuffer[T]) setContext(ctx context.Context) {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	bb.ctx = ctx
}

func (bb *batchBuffer[T]) enqueue(item T) error {
	bb.mu.Lock()
	ctx := bb.ctx
	if ctx == nil {
		bb.mu.Unlock()
		return errors.New("batch buffer is not running")
	}
	if err := ctx.Err(); err != nil {
		bb.mu.Unlock()
		return err
	}
	bb.items = append(bb.items, item)
	var batch []T
	if len(bb.items) >= max(bb.cfg.Size, 1) {
		batch = bb.takeBatchLocked()
	} else if bb.timer == nil && bb.cfg.Timeout > 0 {
		bb.timer = time.AfterFunc(bb.cfg.Timeout, bb.flushOnTimer)
	}
	bb.mu.Unlock()

	return bb.flush(ctx, batch)
}

func (bb *batchBuffer[T]) flushOnTimer() {
	bb.mu.Lock()
	ctx := bb.ctx
	batch := bb.takeBatchLocked()
	bb.mu.Unlock()
	if err := bb.flush(ctx, batch); err != nil {
		bb.logger.WithError(err).Warn("batch flush failed")
	}
}

func (bb *batchBuffer[T]) takeBatchLocked() []T {
	if bb.timer != nil {
		bb.timer.Stop()
		bb.timer = nil
	}
	if len(bb.items) == 0 {
		return nil
	}
	batch := make([]T, len(bb.items))
	copy(batch, bb.items)
	bb.items = bb.items[:0]
	return batch
}

func (bb *batchBuffer[T]) flush(ctx context.Context, batch []T) error {
	if len(batch) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	if err := bb.flushFn(ctx, batch); err != nil {
		return err
	}
	bb.logger.WithFields(logrus.Fields{
		"size":    len(batch),
		"took_ms": time.Since(start).Milliseconds(),
	}).Debug("flushed batch")
	return nil
}

func (bb *batchBuffer[T]) drain(ctx context.Context) error {
	bb.mu.Lock()
	batch := bb.takeBatchLocked()
	bb.mu.Unlock()
	return bb.flush(ctx, batch)
}
