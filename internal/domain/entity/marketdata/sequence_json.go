package marketdata

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Stored layout:
//
//	{"pair":"EUR_USD","gran":"H1","candles":[[ask,bid,mid,time,complete],...]}
//
// where ask, bid and mid are ["o","h","l","c"] decimal strings.
type storedSequence struct {
	Pair    string            `json:"pair"`
	Gran    string            `json:"gran"`
	Candles []json.RawMessage `json:"candles"`
}

func (s Sequence) MarshalJSON() ([]byte, error) {
	rows := make([]json.RawMessage, 0, len(s.candles))
	for _, c := range s.candles {
		row, err := json.Marshal([]any{
			quoteStrings(c.Ask),
			quoteStrings(c.Bid),
			quoteStrings(c.Mid),
			int64(c.Time),
			c.Complete,
		})
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return json.Marshal(storedSequence{
		Pair:    string(s.instrument),
		Gran:    s.granularity.Code,
		Candles: rows,
	})
}

// UnmarshalJSON rebuilds the sequence through NewSequence, so a payload that
// breaks ordering or completeness rules is rejected.
func (s *Sequence) UnmarshalJSON(data []byte) error {
	var stored storedSequence
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("decode candle sequence: %w", err)
	}
	instrument, err := ParseInstrument(stored.Pair)
	if err != nil {
		return err
	}
	granularity, err := ParseGranularity(stored.Gran)
	if err != nil {
		return err
	}
	candles := make([]Candle, 0, len(stored.Candles))
	for i, raw := range stored.Candles {
		c, err := decodeCandleRow(raw)
		if err != nil {
			return fmt.Errorf("decode candle %d: %w", i, err)
		}
		candles = append(candles, c)
	}
	seq, err := NewSequence(instrument, granularity, candles)
	if err != nil {
		return err
	}
	*s = seq
	return nil
}

func quoteStrings(q Ohlc) [4]string {
	return [4]string{q.O.String(), q.H.String(), q.L.String(), q.C.String()}
}

func decodeCandleRow(raw json.RawMessage) (Candle, error) {
	var row []json.RawMessage
	if err := json.Unmarshal(raw, &row); err != nil {
		return Candle{}, err
	}
	if len(row) != 5 {
		return Candle{}, fmt.Errorf("expected 5 fields, got %d", len(row))
	}
	var (
		c   Candle
		err error
	)
	if c.Ask, err = decodeQuote(row[0]); err != nil {
		return Candle{}, fmt.Errorf("ask: %w", err)
	}
	if c.Bid, err = decodeQuote(row[1]); err != nil {
		return Candle{}, fmt.Errorf("bid: %w", err)
	}
	if c.Mid, err = decodeQuote(row[2]); err != nil {
		return Candle{}, fmt.Errorf("mid: %w", err)
	}
	var t int64
	if err := json.Unmarshal(row[3], &t); err != nil {
		return Candle{}, fmt.Errorf("time: %w", err)
	}
	c.Time = TimeInt(t)
	if err := json.Unmarshal(row[4], &c.Complete); err != nil {
		return Candle{}, fmt.Errorf("complete: %w", err)
	}
	return c, nil
}

func decodeQuote(raw json.RawMessage) (Ohlc, error) {
	var prices [4]string
	if err := json.Unmarshal(raw, &prices); err != nil {
		return Ohlc{}, err
	}
	var parsed [4]decimal.Decimal
	for i, p := range prices {
		d, err := decimal.NewFromString(p)
		if err != nil {
			return Ohlc{}, err
		}
		parsed[i] = d
	}
	return Ohlc{O: parsed[0], H: parsed[1], L: parsed[2], C: parsed[3]}, nil
}
