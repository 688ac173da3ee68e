package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	exchange  string
	published []amqp.Publishing
	err       error
	closed    bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, _ string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.exchange = exchange
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublishCandle(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, "candlekeeper.candles", quietLogger())

	require.NoError(t, p.PublishCandle(context.Background(), eurM1, testCandle(60, true)))

	require.Len(t, ch.published, 1)
	assert.Equal(t, "candlekeeper.candles", ch.exchange)
	assert.Equal(t, "application/json", ch.published[0].ContentType)
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)

	var msg CandleMessage
	require.NoError(t, json.Unmarshal(ch.published[0].Body, &msg))
	key, err := msg.Key()
	require.NoError(t, err)
	assert.Equal(t, eurM1, key)
	assert.True(t, msg.Candle.Equal(testCandle(60, true)))

	p.Close()
	assert.True(t, ch.closed)
}

func TestPublishCandleError(t *testing.T) {
	p := newPublisher(&fakeChannel{err: errors.New("channel closed")}, "x", quietLogger())

	assert.Error(t, p.PublishCandle(context.Background(), eurM1, testCandle(60, true)))
}
