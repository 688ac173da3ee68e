package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	domain "candlekeeper/internal/domain/entity/marketdata"
	interfaces "candlekeeper/internal/domain/interfaces"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pool is the part of *pgxpool.Pool the repository needs.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Close()
}

// candleNamespace derives stable candle ids from the series key and time.
var candleNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("candlekeeper:candles"))

type Repository struct {
	pool pool
}

var _ interfaces.CandleRepository = (*Repository)(nil)

func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pgPool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return &Repository{pool: pgPool}, nil
}

func newRepositoryWithPool(p pool) *Repository {
	return &Repository{pool: p}
}

func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

const createCandlesTable = `
	CREATE TABLE IF NOT EXISTS candles (
		candle_id    uuid PRIMARY KEY,
		instrument   text    NOT NULL,
		granularity  text    NOT NULL,
		period_start bigint  NOT NULL,
		complete     boolean NOT NULL,
		quotes       jsonb   NOT NULL,
		UNIQUE (instrument, granularity, period_start)
	)`

// candle_windows bounds what LoadSequence returns to the last saved window.
const createWindowsTable = `
	CREATE TABLE IF NOT EXISTS candle_windows (
		instrument   text   NOT NULL,
		granularity  text   NOT NULL,
		window_start bigint NOT NULL,
		window_end   bigint NOT NULL,
		PRIMARY KEY (instrument, granularity)
	)`

// EnsureSchema creates the candles and candle_windows tables when they do not
// exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createCandlesTable); err != nil {
		return fmt.Errorf("create candles table: %w", err)
	}
	if _, err := r.pool.Exec(ctx, createWindowsTable); err != nil {
		return fmt.Errorf("create candle_windows table: %w", err)
	}
	return nil
}

// A stored incomplete candle never replaces a complete one.
const upsertCandleQuery = `
	INSERT INTO candles (candle_id, instrument, granularity, period_start, complete, quotes)
	VALUES ($1,$2,$3,$4,$5,$6)
	ON CONFLICT (instrument, granularity, period_start) DO UPDATE
	SET complete = EXCLUDED.complete,
	    quotes = EXCLUDED.quotes
	WHERE NOT candles.complete OR EXCLUDED.complete`

const upsertWindowQuery = `
	INSERT INTO candle_windows (instrument, granularity, window_start, window_end)
	VALUES ($1,$2,$3,$4)
	ON CONFLICT (instrument, granularity) DO UPDATE
	SET window_start = EXCLUDED.window_start,
	    window_end = EXCLUDED.window_end`

// SaveSequence stores the window's candles and moves the key's window bounds
// to them in one batch. Candles outside the bounds stay in the table for
// GetLastCandles but no longer come back from LoadSequence.
func (r *Repository) SaveSequence(ctx context.Context, seq domain.Sequence) error {
	if seq.IsEmpty() {
		return nil
	}
	batch := &pgx.Batch{}
	batch.Queue(upsertWindowQuery,
		seq.Instrument().String(),
		seq.Granularity().Code,
		int64(seq.Start()),
		int64(seq.End()),
	)
	if err := queueCandles(batch, seq.Instrument(), seq.Granularity(), seq.Candles()); err != nil {
		return err
	}
	if err := execBatch(ctx, r.pool, batch); err != nil {
		return fmt.Errorf("save %s: %w", seq.Key(), err)
	}
	return nil
}

func (r *Repository) UpsertCandles(ctx context.Context, instrument domain.Instrument, granularity domain.Granularity, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	if err := queueCandles(batch, instrument, granularity, candles); err != nil {
		return err
	}
	return execBatch(ctx, r.pool, batch)
}

func queueCandles(batch *pgx.Batch, instrument domain.Instrument, granularity domain.Granularity, candles []domain.Candle) error {
	for _, candle := range candles {
		quotes, err := marshalQuotes(candle)
		if err != nil {
			return err
		}
		batch.Queue(upsertCandleQuery,
			candleID(instrument, granularity, candle.Time),
			instrument.String(),
			granularity.Code,
			int64(candle.Time),
			candle.Complete,
			quotes,
		)
	}
	return nil
}

// LoadSequence returns the candles inside the key's last saved window. A key
// that was only ever filled through UpsertCandles has no bounds and loads
// every stored candle.
func (r *Repository) LoadSequence(ctx context.Context, instrument domain.Instrument, granularity domain.Granularity) (domain.Sequence, error) {
	const query = `
		SELECT c.period_start, c.complete, c.quotes
		FROM candles c
		LEFT JOIN candle_windows w
		  ON w.instrument = c.instrument AND w.granularity = c.granularity
		WHERE c.instrument=$1 AND c.granularity=$2
		  AND (w.instrument IS NULL OR c.period_start BETWEEN w.window_start AND w.window_end)
		ORDER BY c.period_start ASC`
	candles, err := r.queryCandles(ctx, query, instrument.String(), granularity.Code)
	if err != nil {
		return domain.Sequence{}, err
	}
	if len(candles) == 0 {
		return domain.Sequence{}, interfaces.ErrSequenceNotFound
	}
	return domain.NewSequence(instrument, granularity, dropStaleOpen(candles))
}

func (r *Repository) GetLastCandles(ctx context.Context, instrument domain.Instrument, granularity domain.Granularity, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	const query = `
		SELECT period_start, complete, quotes
		FROM candles
		WHERE instrument=$1 AND granularity=$2
		ORDER BY period_start DESC
		LIMIT $3`
	candles, err := r.queryCandles(ctx, query, instrument.String(), granularity.Code, limit)
	if err != nil {
		return nil, err
	}
	slices.Reverse(candles)
	return dropStaleOpen(candles), nil
}

func (r *Repository) queryCandles(ctx context.Context, query string, args ...any) ([]domain.Candle, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		candle, err := scanCandle(rows)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, rows.Err()
}

func scanCandle(row pgx.Row) (domain.Candle, error) {
	var (
		periodStart int64
		complete    bool
		quotesBytes []byte
	)
	if err := row.Scan(&periodStart, &complete, &quotesBytes); err != nil {
		return domain.Candle{}, err
	}
	var quotes storedQuotes
	if err := json.Unmarshal(quotesBytes, &quotes); err != nil {
		return domain.Candle{}, fmt.Errorf("decode quotes of candle %d: %w", periodStart, err)
	}
	return domain.Candle{
		Ask:      quotes.Ask,
		Bid:      quotes.Bid,
		Mid:      quotes.Mid,
		Time:     domain.TimeInt(periodStart),
		Complete: complete,
	}, nil
}

type storedQuotes struct {
	Ask domain.Ohlc `json:"ask"`
	Bid domain.Ohlc `json:"bid"`
	Mid domain.Ohlc `json:"mid"`
}

func marshalQuotes(candle domain.Candle) ([]byte, error) {
	data, err := json.Marshal(storedQuotes{Ask: candle.Ask, Bid: candle.Bid, Mid: candle.Mid})
	if err != nil {
		return nil, fmt.Errorf("encode quotes of candle %d: %w", candle.Time, err)
	}
	return data, nil
}

// dropStaleOpen removes incomplete rows that newer rows have overtaken; they
// are snapshots of slots that closed while nobody was saving.
func dropStaleOpen(candles []domain.Candle) []domain.Candle {
	out := candles[:0]
	for i, candle := range candles {
		if !candle.Complete && i != len(candles)-1 {
			continue
		}
		out = append(out, candle)
	}
	return out
}

func candleID(instrument domain.Instrument, granularity domain.Granularity, t domain.TimeInt) uuid.UUID {
	return uuid.NewSHA1(candleNamespace, []byte(fmt.Sprintf("%s:%s:%d", instrument, granularity.Code, t)))
}

func execBatch(ctx context.Context, p pool, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	results := p.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}
