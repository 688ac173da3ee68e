package marketdata

import "github.com/shopspring/decimal"

// Ohlc holds the open, high, low and close prices of one quote side.
type Ohlc struct {
	O decimal.Decimal `json:"o"`
	H decimal.Decimal `json:"h"`
	L decimal.Decimal `json:"l"`
	C decimal.Decimal `json:"c"`
}

func (q Ohlc) Equal(other Ohlc) bool {
	return q.O.Equal(other.O) && q.H.Equal(other.H) && q.L.Equal(other.L) && q.C.Equal(other.C)
}

// Candle is one fixed-duration slot of ask, bid and mid prices.
type Candle struct {
	Ask      Ohlc    `json:"ask"`
	Bid      Ohlc    `json:"bid"`
	Mid      Ohlc    `json:"mid"`
	Time     TimeInt `json:"time"`
	Complete bool    `json:"complete"`
}

// High is the highest price paid to buy during the slot.
func (c Candle) High() decimal.Decimal {
	return c.Ask.H
}

// Low is the lowest price received when selling during the slot.
func (c Candle) Low() decimal.Decimal {
	return c.Bid.L
}

// Equal reports whether both candles carry identical content.
func (c Candle) Equal(other Candle) bool {
	return c.Time == other.Time &&
		c.Complete == other.Complete &&
		c.Ask.Equal(other.Ask) &&
		c.Bid.Equal(other.Bid) &&
		c.Mid.Equal(other.Mid)
}

// Ordering is the result of Compare.
type Ordering int

const (
	Before Ordering = iota - 1
	Same
	After
)

func (o Ordering) String() string {
	switch o {
	case Before:
		return "before"
	case After:
		return "after"
	}
	return "same"
}

// Compare orders candles by start time, then by completeness: a complete
// candle sorts after an incomplete one with the same start time.
func Compare(a, b Candle) Ordering {
	switch {
	case a.Time < b.Time:
		return Before
	case a.Time > b.Time:
		return After
	case a.Complete == b.Complete:
		return Same
	case a.Complete:
		return After
	}
	return Before
}
