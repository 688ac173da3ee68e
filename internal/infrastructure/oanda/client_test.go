package oanda

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	marketdata "candlekeeper/internal/domain/entity/marketdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

const candlesBody = `{
  "instrument": "EUR_USD",
  "granularity": "H1",
  "candles": [
    {"complete": true, "volume": 10, "time": "1591880400.000000000",
     "bid": {"o": "1.13400", "h": "1.13500", "l": "1.13300", "c": "1.13450"},
     "ask": {"o": "1.13410", "h": "1.13510", "l": "1.13310", "c": "1.13460"},
     "mid": {"o": "1.13405", "h": "1.13505", "l": "1.13305", "c": "1.13455"}},
    {"complete": false, "volume": 3, "time": "1591884000.000000000",
     "bid": {"o": "1.13450", "h": "1.13600", "l": "1.13400", "c": "1.13550"},
     "ask": {"o": "1.13460", "h": "1.13610", "l": "1.13410", "c": "1.13560"},
     "mid": {"o": "1.13455", "h": "1.13605", "l": "1.13405", "c": "1.13555"}}
  ]
}`

type capturedRequest struct {
	path    string
	args    map[string]string
	auth    string
	datefmt string
}

func newTestClient(t *testing.T, handler func(ctx *fasthttp.RequestCtx)) (*Client, *[]capturedRequest) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	var captured []capturedRequest
	go func() {
		_ = fasthttp.Serve(ln, func(ctx *fasthttp.RequestCtx) {
			req := capturedRequest{
				path:    string(ctx.Path()),
				args:    map[string]string{},
				auth:    string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization)),
				datefmt: string(ctx.Request.Header.Peek("Accept-Datetime-Format")),
			}
			ctx.QueryArgs().VisitAll(func(key, value []byte) {
				req.args[string(key)] = string(value)
			})
			captured = append(captured, req)
			handler(ctx)
		})
	}()
	t.Cleanup(func() { _ = ln.Close() })

	client, err := NewClient(Config{
		BaseURL: "http://oanda.test",
		Token:   "secret",
		Timeout: time.Second,
		HTTPClient: &fasthttp.Client{
			Dial: func(addr string) (net.Conn, error) { return ln.Dial() },
		},
	}, nil)
	require.NoError(t, err)
	return client, &captured
}

func respond(status int, body string) func(ctx *fasthttp.RequestCtx) {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(status)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(body)
	}
}

func TestFetchLatestCandles(t *testing.T) {
	client, captured := newTestClient(t, respond(fasthttp.StatusOK, candlesBody))

	candles, err := client.FetchCandles(context.Background(), "EUR_USD", marketdata.H1, marketdata.Latest(), 500)
	require.NoError(t, err)

	require.Len(t, candles, 2)
	assert.Equal(t, marketdata.TimeInt(1591880400), candles[0].Time)
	assert.True(t, candles[0].Complete)
	assert.False(t, candles[1].Complete)
	assert.Equal(t, "1.1351", candles[0].High().String())
	assert.Equal(t, "1.133", candles[0].Low().String())

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, "/v3/instruments/EUR_USD/candles", req.path)
	assert.Equal(t, map[string]string{"granularity": "H1", "price": "BAM", "count": "500"}, req.args)
	assert.Equal(t, "Bearer secret", req.auth)
	assert.Equal(t, "UNIX", req.datefmt)
}

func TestFetchAfterExcludesAnchor(t *testing.T) {
	client, captured := newTestClient(t, respond(fasthttp.StatusOK, candlesBody))

	candles, err := client.FetchCandles(context.Background(), "EUR_USD", marketdata.H1, marketdata.AfterTime(1591880400), 9000)
	require.NoError(t, err)

	require.Len(t, candles, 1)
	assert.Equal(t, marketdata.TimeInt(1591884000), candles[0].Time)
	args := (*captured)[0].args
	assert.Equal(t, "1591880400", args["from"])
	assert.Equal(t, "false", args["includeFirst"])
	assert.Equal(t, "5000", args["count"])
	assert.NotContains(t, args, "to")
}

func TestFetchBeforeUsesTo(t *testing.T) {
	client, captured := newTestClient(t, respond(fasthttp.StatusOK, candlesBody))

	candles, err := client.FetchCandles(context.Background(), "EUR_USD", marketdata.H1, marketdata.BeforeTime(1591884000), 100)
	require.NoError(t, err)

	require.Len(t, candles, 1)
	assert.Equal(t, marketdata.TimeInt(1591880400), candles[0].Time)
	args := (*captured)[0].args
	assert.Equal(t, "1591884000", args["to"])
	assert.NotContains(t, args, "from")
	assert.NotContains(t, args, "includeFirst")
}

func TestFetchEmptyIsNotAnError(t *testing.T) {
	client, _ := newTestClient(t, respond(fasthttp.StatusOK, `{"instrument":"EUR_USD","granularity":"H1","candles":[]}`))

	candles, err := client.FetchCandles(context.Background(), "EUR_USD", marketdata.H1, marketdata.BeforeTime(1000), 500)
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestFetchAPIError(t *testing.T) {
	client, _ := newTestClient(t, respond(fasthttp.StatusUnauthorized, `{"errorMessage":"Insufficient authorization to perform request."}`))

	_, err := client.FetchCandles(context.Background(), "EUR_USD", marketdata.H1, marketdata.Latest(), 500)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, fasthttp.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Insufficient authorization to perform request.", apiErr.Message)
}

func TestFetchMalformedBody(t *testing.T) {
	client, _ := newTestClient(t, respond(fasthttp.StatusOK, `{"candles": [{"time": "yesterday", "complete": true,
		"bid": {"o":"1","h":"1","l":"1","c":"1"}, "ask": {"o":"1","h":"1","l":"1","c":"1"}, "mid": {"o":"1","h":"1","l":"1","c":"1"}}]}`))

	_, err := client.FetchCandles(context.Background(), "EUR_USD", marketdata.H1, marketdata.Latest(), 500)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestFetchHonoursCanceledContext(t *testing.T) {
	client, captured := newTestClient(t, respond(fasthttp.StatusOK, candlesBody))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchCandles(ctx, "EUR_USD", marketdata.H1, marketdata.Latest(), 500)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, *captured)
}

func TestNormalizeKeepsCompleteDuplicate(t *testing.T) {
	open := marketdata.Candle{Time: 200}
	closed := marketdata.Candle{Time: 200, Complete: true}
	stale := marketdata.Candle{Time: 100}

	out := normalize([]marketdata.Candle{closed, open, stale, {Time: 300}})

	require.Len(t, out, 2)
	assert.Equal(t, closed, out[0])
	assert.Equal(t, marketdata.TimeInt(300), out[1].Time)
}

func TestBaseURLFor(t *testing.T) {
	assert.Equal(t, LiveURL, BaseURLFor("LIVE"))
	assert.Equal(t, PracticeURL, BaseURLFor("practice"))
	assert.Equal(t, PracticeURL, BaseURLFor(""))
}
