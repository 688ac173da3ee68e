package oanda

import (
	"fmt"
	"strconv"
	"strings"

	marketdata "candlekeeper/internal/domain/entity/marketdata"

	"github.com/shopspring/decimal"
)

// candlesParams is the query of GET /v3/instruments/{instrument}/candles.
type candlesParams struct {
	Granularity  string `url:"granularity"`
	Price        string `url:"price"`
	Count        int    `url:"count,omitempty"`
	From         string `url:"from,omitempty"`
	To           string `url:"to,omitempty"`
	IncludeFirst *bool  `url:"includeFirst,omitempty"`
}

type candlesResponse struct {
	Instrument  string      `json:"instrument"`
	Granularity string      `json:"granularity"`
	Candles     []candleDTO `json:"candles"`
}

type candleDTO struct {
	Time     string    `json:"time"`
	Complete bool      `json:"complete"`
	Volume   int64     `json:"volume"`
	Ask      *quoteDTO `json:"ask"`
	Bid      *quoteDTO `json:"bid"`
	Mid      *quoteDTO `json:"mid"`
}

type quoteDTO struct {
	O decimal.Decimal `json:"o"`
	H decimal.Decimal `json:"h"`
	L decimal.Decimal `json:"l"`
	C decimal.Decimal `json:"c"`
}

type errorResponse struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (q *quoteDTO) toDomain() marketdata.Ohlc {
	return marketdata.Ohlc{O: q.O, H: q.H, L: q.L, C: q.C}
}

func (c candleDTO) toDomain() (marketdata.Candle, error) {
	if c.Ask == nil || c.Bid == nil || c.Mid == nil {
		return marketdata.Candle{}, fmt.Errorf("%w: candle %s lacks ask, bid or mid prices", ErrMalformedResponse, c.Time)
	}
	t, err := parseUnixTime(c.Time)
	if err != nil {
		return marketdata.Candle{}, err
	}
	return marketdata.Candle{
		Ask:      c.Ask.toDomain(),
		Bid:      c.Bid.toDomain(),
		Mid:      c.Mid.toDomain(),
		Time:     t,
		Complete: c.Complete,
	}, nil
}

// parseUnixTime reads times such as "1591885739.000000000".
func parseUnixTime(raw string) (marketdata.TimeInt, error) {
	secs, _, _ := strings.Cut(raw, ".")
	parsed, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: time %q", ErrMalformedResponse, raw)
	}
	return marketdata.TimeInt(parsed), nil
}
