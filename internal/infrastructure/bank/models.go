package bank

import (
	"time"

	domain "candlekeeper/internal/domain/entity/marketdata"

	"github.com/shopspring/decimal"
)

type CandleModel struct {
	Instrument  string          `gorm:"primaryKey;column:instrument;type:varchar(32);not null"`
	Granularity string          `gorm:"primaryKey;column:granularity;type:varchar(8);not null"`
	PeriodStart int64           `gorm:"primaryKey;column:period_start;autoIncrement:false"`
	Complete    bool            `gorm:"column:complete;not null"`
	AskO        decimal.Decimal `gorm:"column:ask_o;type:text"`
	AskH        decimal.Decimal `gorm:"column:ask_h;type:text"`
	AskL        decimal.Decimal `gorm:"column:ask_l;type:text"`
	AskC        decimal.Decimal `gorm:"column:ask_c;type:text"`
	BidO        decimal.Decimal `gorm:"column:bid_o;type:text"`
	BidH        decimal.Decimal `gorm:"column:bid_h;type:text"`
	BidL        decimal.Decimal `gorm:"column:bid_l;type:text"`
	BidC        decimal.Decimal `gorm:"column:bid_c;type:text"`
	MidO        decimal.Decimal `gorm:"column:mid_o;type:text"`
	MidH        decimal.Decimal `gorm:"column:mid_h;type:text"`
	MidL        decimal.Decimal `gorm:"column:mid_l;type:text"`
	MidC        decimal.Decimal `gorm:"column:mid_c;type:text"`
	UpdatedAt   time.Time       `gorm:"column:updated_at"`
}

func (CandleModel) TableName() string {
	return "candles"
}

func newCandleModel(key domain.Key, c domain.Candle) CandleModel {
	return CandleModel{
		Instrument:  key.Instrument.String(),
		Granularity: key.Granularity.Code,
		PeriodStart: int64(c.Time),
		Complete:    c.Complete,
		AskO:        c.Ask.O,
		AskH:        c.Ask.H,
		AskL:        c.Ask.L,
		AskC:        c.Ask.C,
		BidO:        c.Bid.O,
		BidH:        c.Bid.H,
		BidL:        c.Bid.L,
		BidC:        c.Bid.C,
		MidO:        c.Mid.O,
		MidH:        c.Mid.H,
		MidL:        c.Mid.L,
		MidC:        c.Mid.C,
	}
}

func (m CandleModel) toDomain() domain.Candle {
	return domain.Candle{
		Ask:      domain.Ohlc{O: m.AskO, H: m.AskH, L: m.AskL, C: m.AskC},
		Bid:      domain.Ohlc{O: m.BidO, H: m.BidH, L: m.BidL, C: m.BidC},
		Mid:      domain.Ohlc{O: m.MidO, H: m.MidH, L: m.MidL, C: m.MidC},
		Time:     domain.TimeInt(m.PeriodStart),
		Complete: m.Complete,
	}
}
