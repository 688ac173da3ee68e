package interfaces

import (
	"context"
	"errors"

	marketdata "candlekeeper/internal/domain/entity/marketdata"
)

var ErrSequenceNotFound = errors.New("candle sequence not found")

// CandleFetcher pulls candles from a remote source. Results are oldest first,
// strictly on the requested side of the anchor and at most count long. An
// empty result means nothing exists past the anchor; failures are errors.
type CandleFetcher interface {
	FetchCandles(ctx context.Context, instrument marketdata.Instrument, granularity marketdata.Granularity, anchor marketdata.Anchor, count int) ([]marketdata.Candle, error)
}

// SequenceStore persists cached windows between runs.
type SequenceStore interface {
	SaveSequence(ctx context.Context, seq marketdata.Sequence) error
	// LoadSequence returns ErrSequenceNotFound when nothing is stored for the key.
	LoadSequence(ctx context.Context, instrument marketdata.Instrument, granularity marketdata.Granularity) (marketdata.Sequence, error)
}

// CandleRepository stores individual candles as they close.
type CandleRepository interface {
	SequenceStore
	UpsertCandles(ctx context.Context, instrument marketdata.Instrument, granularity marketdata.Granularity, candles []marketdata.Candle) error
	GetLastCandles(ctx context.Context, instrument marketdata.Instrument, granularity marketdata.Granularity, limit int) ([]marketdata.Candle, error)
	Close()
}
