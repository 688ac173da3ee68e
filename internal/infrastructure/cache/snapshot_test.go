package cache

import (
	"context"
	"testing"
	"time"

	domain "candlekeeper/internal/domain/entity/marketdata"
	interfaces "candlekeeper/internal/domain/interfaces"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) (*SnapshotStore, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSnapshotStore(client, ttl), srv
}

func window(t *testing.T) domain.Sequence {
	t.Helper()
	q := domain.Ohlc{
		O: decimal.RequireFromString("0.6512"),
		H: decimal.RequireFromString("0.6530"),
		L: decimal.RequireFromString("0.6501"),
		C: decimal.RequireFromString("0.6520"),
	}
	seq, err := domain.NewSequence("AUD_USD", domain.M15, []domain.Candle{
		{Ask: q, Bid: q, Mid: q, Time: 900, Complete: true},
		{Ask: q, Bid: q, Mid: q, Time: 1800, Complete: false},
	})
	require.NoError(t, err)
	return seq
}

func TestSnapshotRoundTrip(t *testing.T) {
	store, srv := newTestStore(t, time.Hour)
	ctx := context.Background()
	seq := window(t)

	require.NoError(t, store.SaveSequence(ctx, seq))
	assert.True(t, srv.Exists("candlekeeper:window:AUD_USD:M15"))
	assert.Equal(t, time.Hour, srv.TTL("candlekeeper:window:AUD_USD:M15"))

	loaded, err := store.LoadSequence(ctx, "AUD_USD", domain.M15)
	require.NoError(t, err)
	assert.True(t, loaded.Equal(seq))
}

func TestSnapshotMissing(t *testing.T) {
	store, _ := newTestStore(t, 0)

	_, err := store.LoadSequence(context.Background(), "AUD_USD", domain.M15)
	assert.ErrorIs(t, err, interfaces.ErrSequenceNotFound)
}

func TestSnapshotExpires(t *testing.T) {
	store, srv := newTestStore(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, store.SaveSequence(ctx, window(t)))

	srv.FastForward(2 * time.Minute)

	_, err := store.LoadSequence(ctx, "AUD_USD", domain.M15)
	assert.ErrorIs(t, err, interfaces.ErrSequenceNotFound)
}

func TestSnapshotRejectsCorruptPayload(t *testing.T) {
	store, srv := newTestStore(t, 0)
	require.NoError(t, srv.Set("candlekeeper:window:AUD_USD:M15", `{"pair":"AUD_USD","gran":"M15","candles":[[`))

	_, err := store.LoadSequence(context.Background(), "AUD_USD", domain.M15)
	require.Error(t, err)
	assert.NotErrorIs(t, err, interfaces.ErrSequenceNotFound)
}

func TestSnapshotRejectsForeignKey(t *testing.T) {
	store, srv := newTestStore(t, 0)
	payload, err := window(t).MarshalJSON()
	require.NoError(t, err)
	require.NoError(t, srv.Set("candlekeeper:window:EUR_USD:M15", string(payload)))

	_, err = store.LoadSequence(context.Background(), "EUR_USD", domain.M15)
	assert.ErrorIs(t, err, domain.ErrKeyMismatch)
}

func TestSaveEmptyWindowIsNoop(t *testing.T) {
	store, srv := newTestStore(t, 0)

	require.NoError(t, store.SaveSequence(context.Background(), domain.EmptySequence("AUD_USD", domain.M15)))
	assert.Empty(t, srv.Keys())
}
