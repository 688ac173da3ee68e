package broker

import (
	"errors"
	"fmt"

	domain "candlekeeper/internal/domain/entity/marketdata"
)

var ErrEmptyMessage = errors.New("candle message is empty")

// CandleMessage is the body published to the candles exchange.
type CandleMessage struct {
	Instrument  string         `json:"instrument"`
	Granularity string         `json:"granularity"`
	Candle      *domain.Candle `json:"candle,omitempty"`
}

func NewCandleMessage(key domain.Key, candle domain.Candle) CandleMessage {
	return CandleMessage{
		Instrument:  key.Instrument.String(),
		Granularity: key.Granularity.Code,
		Candle:      &candle,
	}
}

// Key validates the routing fields of the message.
func (m CandleMessage) Key() (domain.Key, error) {
	if m.Candle == nil {
		return domain.Key{}, ErrEmptyMessage
	}
	instrument, err := domain.ParseInstrument(m.Instrument)
	if err != nil {
		return domain.Key{}, fmt.Errorf("candle message: %w", err)
	}
	granularity, err := domain.ParseGranularity(m.Granularity)
	if err != nil {
		return domain.Key{}, fmt.Errorf("candle message: %w", err)
	}
	return domain.Key{Instrument: instrument, Granularity: granularity}, nil
}
