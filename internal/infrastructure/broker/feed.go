package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "candlekeeper/internal/domain/entity/marketdata"

	"github.com/sirupsen/logrus"
)

type CandlePublisher interface {
	PublishCandle(ctx context.Context, key domain.Key, candle domain.Candle) error
}

// WindowReader is satisfied by collector.Synchronized.
type WindowReader interface {
	Key() domain.Key
	Read(ctx context.Context, count int) (domain.Sequence, error)
}

// Feed polls a cached window and publishes candles as they complete.
type Feed struct {
	publisher CandlePublisher
	depth     int
	interval  time.Duration
	logger    *logrus.Entry
}

func NewFeed(publisher CandlePublisher, depth int, interval time.Duration, logger *logrus.Logger) *Feed {
	return &Feed{
		publisher: publisher,
		depth:     max(depth, 1),
		interval:  interval,
		logger:    logger.WithField("component", "feed"),
	}
}

// Run polls reader every interval until ctx is done. Read failures are
// logged and retried on the next tick; publish failures stop the feed.
func (f *Feed) Run(ctx context.Context, reader WindowReader) error {
	key := reader.Key()
	log := f.logger.WithField("key", key.String())
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	last := domain.MinTime
	for {
		next, err := f.Poll(ctx, reader, last)
		switch {
		case err == nil:
			last = next
		case errors.Is(err, errPublish):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			log.WithError(err).Warn("read window failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

var errPublish = errors.New("publish candle")

// Poll publishes complete candles newer than last and returns the time of the
// newest one published, or last when nothing was.
func (f *Feed) Poll(ctx context.Context, reader WindowReader, last domain.TimeInt) (domain.TimeInt, error) {
	seq, err := reader.Read(ctx, f.depth)
	if err != nil {
		return last, err
	}
	published := 0
	for _, candle := range seq.All() {
		if !candle.Complete || candle.Time <= last {
			continue
		}
		if err := f.publisher.PublishCandle(ctx, seq.Key(), candle); err != nil {
			return last, fmt.Errorf("%w %s at %s: %w", errPublish, seq.Key(), candle.Time, err)
		}
		last = candle.Time
		published++
	}
	if published > 0 {
		f.logger.WithFields(logrus.Fields{"key": seq.Key().String(), "published": published}).Debug("published candles")
	}
	return last, nil
}
