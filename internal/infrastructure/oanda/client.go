package oanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"
	"time"

	marketdata "candlekeeper/internal/domain/entity/marketdata"
	interfaces "candlekeeper/internal/domain/interfaces"

	"github.com/google/go-querystring/query"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

const (
	PracticeURL = "https://api-fxpractice.oanda.com"
	LiveURL     = "https://api-fxtrade.oanda.com"

	// MaxCount is the largest candle count the API serves per request.
	MaxCount = 5000

	defaultTimeout = 10 * time.Second
)

var ErrMalformedResponse = errors.New("malformed candles response")

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("oanda api: status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("oanda api: status %d: %s", e.StatusCode, e.Message)
}

type Config struct {
	// BaseURL wins over Environment when set.
	BaseURL     string
	Environment string
	Token       string
	Timeout     time.Duration
	// HTTPClient overrides the default fasthttp client.
	HTTPClient *fasthttp.Client
}

// BaseURLFor maps an environment name to the API host.
func BaseURLFor(environment string) string {
	if strings.EqualFold(environment, "live") {
		return LiveURL
	}
	return PracticeURL
}

// Client fetches candles from the OANDA v20 REST API.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *fasthttp.Client
	logger  *logrus.Entry
}

var _ interfaces.CandleFetcher = (*Client)(nil)

func NewClient(cfg Config, logger *logrus.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("oanda token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = BaseURLFor(cfg.Environment)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &fasthttp.Client{
			Name:                "candlekeeper",
			MaxConnsPerHost:     16,
			MaxIdleConnDuration: 20 * time.Second,
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
		}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		timeout: cfg.Timeout,
		http:    httpClient,
		logger:  logger.WithField("component", "oanda_client"),
	}, nil
}

// FetchCandles requests up to count candles on the anchor's side of its
// bound. Candles come back oldest first; the anchor bound itself is never
// included.
func (c *Client) FetchCandles(ctx context.Context, instrument marketdata.Instrument, granularity marketdata.Granularity, anchor marketdata.Anchor, count int) ([]marketdata.Candle, error) {
	if count <= 0 {
		return nil, nil
	}
	count = min(count, MaxCount)

	params := candlesParams{
		Granularity: granularity.Code,
		Price:       "BAM",
		Count:       count,
	}
	switch anchor.Kind {
	case marketdata.AnchorBefore:
		params.To = anchor.Time.Unix()
	case marketdata.AnchorAfter:
		includeFirst := false
		params.From = anchor.Time.Unix()
		params.IncludeFirst = &includeFirst
	}
	values, err := query.Values(params)
	if err != nil {
		return nil, fmt.Errorf("encode candles query: %w", err)
	}
	path := fmt.Sprintf("/v3/instruments/%s/candles?%s", url.PathEscape(instrument.String()), values.Encode())

	var payload candlesResponse
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}

	candles := make([]marketdata.Candle, 0, len(payload.Candles))
	for _, dto := range payload.Candles {
		candle, err := dto.toDomain()
		if err != nil {
			return nil, err
		}
		if anchor.Admits(candle.Time) {
			candles = append(candles, candle)
		}
	}
	candles = normalize(candles)
	if len(candles) > count {
		if anchor.Kind == marketdata.AnchorAfter {
			candles = candles[:count]
		} else {
			candles = candles[len(candles)-count:]
		}
	}

	c.logger.WithFields(logrus.Fields{
		"instrument":  instrument.String(),
		"granularity": granularity.Code,
		"anchor":      anchor.String(),
		"requested":   count,
		"received":    len(candles),
	}).Debug("fetched candles")
	return candles, nil
}

// normalize sorts by time and keeps one candle per slot, preferring the
// complete one.
func normalize(candles []marketdata.Candle) []marketdata.Candle {
	slices.SortStableFunc(candles, func(a, b marketdata.Candle) int {
		return int(marketdata.Compare(a, b))
	})
	out := candles[:0]
	for _, candle := range candles {
		if n := len(out); n > 0 && out[n-1].Time == candle.Time {
			out[n-1] = candle
			continue
		}
		out = append(out, candle)
	}
	// an open slot can only be the newest
	for i := 0; i < len(out)-1; i++ {
		if !out[i].Complete {
			out = append(out[:i], out[i+1:]...)
			i--
		}
	}
	return out
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+c.token)
	req.Header.Set("Accept-Datetime-Format", "UNIX")

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.http.DoDeadline(req, resp, deadline)
	} else {
		err = c.http.DoTimeout(req, resp, c.timeout)
	}
	if err != nil {
		return fmt.Errorf("request candles: %w", err)
	}

	body := resp.Body()
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		apiErr := &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
		var payload errorResponse
		if json.Unmarshal(body, &payload) == nil && payload.ErrorMessage != "" {
			apiErr.Code = payload.ErrorCode
			apiErr.Message = payload.ErrorMessage
		}
		return apiErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
