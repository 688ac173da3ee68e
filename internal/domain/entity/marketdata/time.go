package marketdata

import (
	"math"
	"strconv"
	"time"
)

// TimeInt is a candle start time in whole seconds since the Unix epoch.
type TimeInt int64

const (
	// MinTime sorts before any real candle time.
	MinTime TimeInt = math.MinInt64
	// MaxTime sorts after any real candle time.
	MaxTime TimeInt = math.MaxInt64
)

// FromTime truncates t to whole seconds.
func FromTime(t time.Time) TimeInt {
	return TimeInt(t.Unix())
}

func (t TimeInt) Time() time.Time {
	return time.Unix(int64(t), 0).UTC()
}

func (t TimeInt) String() string {
	switch t {
	case MinTime:
		return "-inf"
	case MaxTime:
		return "+inf"
	}
	return t.Time().Format(time.RFC3339)
}

// Unix renders the time the way the candle storage format expects it.
func (t TimeInt) Unix() string {
	return strconv.FormatInt(int64(t), 10)
}
