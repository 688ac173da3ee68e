package marketdata

import (
	"context"
	"encoding/json"
	"testing"

	domain "candlekeeper/internal/domain/entity/marketdata"
	interfaces "candlekeeper/internal/domain/interfaces"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCandle(t domain.TimeInt, complete bool) domain.Candle {
	q := domain.Ohlc{
		O: decimal.RequireFromString("1.2500"),
		H: decimal.RequireFromString("1.2600"),
		L: decimal.RequireFromString("1.2400"),
		C: decimal.RequireFromString("1.2550"),
	}
	return domain.Candle{Ask: q, Bid: q, Mid: q, Time: t, Complete: complete}
}

func quotesJSON(t *testing.T, c domain.Candle) []byte {
	t.Helper()
	data, err := marshalQuotes(c)
	require.NoError(t, err)
	return data
}

func newMockRepository(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newRepositoryWithPool(mock), mock
}

func TestSaveSequenceQueuesUpserts(t *testing.T) {
	repo, mock := newMockRepository(t)
	seq, err := domain.NewSequence("GBP_USD", domain.M5, []domain.Candle{testCandle(600, true), testCandle(900, false)})
	require.NoError(t, err)

	eb := mock.ExpectBatch()
	eb.ExpectExec("INSERT INTO candle_windows").
		WithArgs("GBP_USD", "M5", int64(600), int64(900)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	eb.ExpectExec("INSERT INTO candles").
		WithArgs(candleID("GBP_USD", domain.M5, 600), "GBP_USD", "M5", int64(600), true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	eb.ExpectExec("INSERT INTO candles").
		WithArgs(candleID("GBP_USD", domain.M5, 900), "GBP_USD", "M5", int64(900), false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.SaveSequence(context.Background(), seq))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSequenceMovesWindowBounds(t *testing.T) {
	repo, mock := newMockRepository(t)
	ctx := context.Background()
	older, err := domain.NewSequence("GBP_USD", domain.D, []domain.Candle{testCandle(86400, true), testCandle(2*86400, true)})
	require.NoError(t, err)
	newer, err := domain.NewSequence("GBP_USD", domain.D, []domain.Candle{testCandle(10*86400, true), testCandle(11*86400, false)})
	require.NoError(t, err)

	for _, seq := range []domain.Sequence{older, newer} {
		eb := mock.ExpectBatch()
		eb.ExpectExec("INSERT INTO candle_windows").
			WithArgs("GBP_USD", "D", int64(seq.Start()), int64(seq.End())).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		for _, c := range seq.Candles() {
			eb.ExpectExec("INSERT INTO candles").
				WithArgs(candleID("GBP_USD", domain.D, c.Time), "GBP_USD", "D", int64(c.Time), c.Complete, pgxmock.AnyArg()).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
		}
	}
	require.NoError(t, repo.SaveSequence(ctx, older))
	require.NoError(t, repo.SaveSequence(ctx, newer))

	rows := pgxmock.NewRows([]string{"period_start", "complete", "quotes"}).
		AddRow(int64(10*86400), true, quotesJSON(t, newer.At(0))).
		AddRow(int64(11*86400), false, quotesJSON(t, newer.At(1)))
	mock.ExpectQuery("LEFT JOIN candle_windows .* BETWEEN w.window_start AND w.window_end").
		WithArgs("GBP_USD", "D").
		WillReturnRows(rows)

	loaded, err := repo.LoadSequence(ctx, "GBP_USD", domain.D)
	require.NoError(t, err)
	assert.True(t, loaded.Equal(newer))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSequenceSkipsEmpty(t *testing.T) {
	repo, mock := newMockRepository(t)

	require.NoError(t, repo.SaveSequence(context.Background(), domain.EmptySequence("GBP_USD", domain.M5)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCandlesLeavesWindowAlone(t *testing.T) {
	repo, mock := newMockRepository(t)
	eb := mock.ExpectBatch()
	eb.ExpectExec("INSERT INTO candles").
		WithArgs(candleID("GBP_USD", domain.M5, 300), "GBP_USD", "M5", int64(300), true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.UpsertCandles(context.Background(), "GBP_USD", domain.M5, []domain.Candle{testCandle(300, true)}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCandlesSkipsEmpty(t *testing.T) {
	repo, mock := newMockRepository(t)

	require.NoError(t, repo.UpsertCandles(context.Background(), "GBP_USD", domain.M5, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSequence(t *testing.T) {
	repo, mock := newMockRepository(t)
	first, second, third := testCandle(300, true), testCandle(600, false), testCandle(900, true)

	rows := pgxmock.NewRows([]string{"period_start", "complete", "quotes"}).
		AddRow(int64(300), true, quotesJSON(t, first)).
		AddRow(int64(600), false, quotesJSON(t, second)).
		AddRow(int64(900), true, quotesJSON(t, third))
	mock.ExpectQuery("SELECT c.period_start, c.complete, c.quotes").
		WithArgs("GBP_USD", "M5").
		WillReturnRows(rows)

	seq, err := repo.LoadSequence(context.Background(), "GBP_USD", domain.M5)
	require.NoError(t, err)

	require.Equal(t, 2, seq.Len(), "stale open slot is dropped")
	assert.True(t, seq.At(0).Equal(first))
	assert.True(t, seq.At(1).Equal(third))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSequenceNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery("SELECT c.period_start").
		WithArgs("GBP_USD", "H1").
		WillReturnRows(pgxmock.NewRows([]string{"period_start", "complete", "quotes"}))

	_, err := repo.LoadSequence(context.Background(), "GBP_USD", domain.H1)
	assert.ErrorIs(t, err, interfaces.ErrSequenceNotFound)
}

func TestGetLastCandlesReturnsOldestFirst(t *testing.T) {
	repo, mock := newMockRepository(t)
	rows := pgxmock.NewRows([]string{"period_start", "complete", "quotes"}).
		AddRow(int64(900), false, quotesJSON(t, testCandle(900, false))).
		AddRow(int64(600), true, quotesJSON(t, testCandle(600, true)))
	mock.ExpectQuery("ORDER BY period_start DESC").
		WithArgs("GBP_USD", "M5", 2).
		WillReturnRows(rows)

	candles, err := repo.GetLastCandles(context.Background(), "GBP_USD", domain.M5, 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, domain.TimeInt(600), candles[0].Time)
	assert.False(t, candles[1].Complete)

	_, err = repo.GetLastCandles(context.Background(), "GBP_USD", domain.M5, 0)
	assert.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS candles").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS candle_windows").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotesEncoding(t *testing.T) {
	var decoded map[string]map[string]string
	require.NoError(t, json.Unmarshal(quotesJSON(t, testCandle(1, true)), &decoded))
	assert.Equal(t, "1.26", decoded["ask"]["h"])
}

func TestCandleIDIsStable(t *testing.T) {
	assert.Equal(t, candleID("EUR_USD", domain.H1, 3600), candleID("EUR_USD", domain.H1, 3600))
	assert.NotEqual(t, candleID("EUR_USD", domain.H1, 3600), candleID("EUR_USD", domain.H4, 3600))
}
