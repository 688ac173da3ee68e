package marketdata

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownGranularity = errors.New("unknown granularity")

// Granularity is the fixed duration covered by each candle of a series.
type Granularity struct {
	Code     string
	Duration time.Duration
}

const (
	minFreshness = 3 * time.Second
	maxFreshness = 5 * time.Minute
)

var (
	S5  = Granularity{Code: "S5", Duration: 5 * time.Second}
	S10 = Granularity{Code: "S10", Duration: 10 * time.Second}
	S15 = Granularity{Code: "S15", Duration: 15 * time.Second}
	S30 = Granularity{Code: "S30", Duration: 30 * time.Second}
	M1  = Granularity{Code: "M1", Duration: time.Minute}
	M2  = Granularity{Code: "M2", Duration: 2 * time.Minute}
	M4  = Granularity{Code: "M4", Duration: 4 * time.Minute}
	M5  = Granularity{Code: "M5", Duration: 5 * time.Minute}
	M10 = Granularity{Code: "M10", Duration: 10 * time.Minute}
	M15 = Granularity{Code: "M15", Duration: 15 * time.Minute}
	M30 = Granularity{Code: "M30", Duration: 30 * time.Minute}
	H1  = Granularity{Code: "H1", Duration: time.Hour}
	H2  = Granularity{Code: "H2", Duration: 2 * time.Hour}
	H3  = Granularity{Code: "H3", Duration: 3 * time.Hour}
	H4  = Granularity{Code: "H4", Duration: 4 * time.Hour}
	H6  = Granularity{Code: "H6", Duration: 6 * time.Hour}
	H8  = Granularity{Code: "H8", Duration: 8 * time.Hour}
	H12 = Granularity{Code: "H12", Duration: 12 * time.Hour}
	D   = Granularity{Code: "D", Duration: 24 * time.Hour}
	W   = Granularity{Code: "W", Duration: 7 * 24 * time.Hour}
	// M is a calendar month; the duration is nominal.
	M = Granularity{Code: "M", Duration: 30 * 24 * time.Hour}
)

var granularities = []Granularity{S5, S10, S15, S30, M1, M2, M4, M5, M10, M15, M30, H1, H2, H3, H4, H6, H8, H12, D, W, M}

// Granularities lists every supported granularity from shortest to longest.
func Granularities() []Granularity {
	out := make([]Granularity, len(granularities))
	copy(out, granularities)
	return out
}

// ParseGranularity resolves a granularity code such as "H1". Codes are case
// sensitive apart from surrounding whitespace because "M" and "m1" differ.
func ParseGranularity(code string) (Granularity, error) {
	code = strings.TrimSpace(code)
	for _, g := range granularities {
		if g.Code == code {
			return g, nil
		}
	}
	return Granularity{}, fmt.Errorf("%w: %q", ErrUnknownGranularity, code)
}

func (g Granularity) String() string {
	return g.Code
}

func (g Granularity) IsZero() bool {
	return g.Code == ""
}

// Seconds is the candle length as a TimeInt step.
func (g Granularity) Seconds() TimeInt {
	return TimeInt(g.Duration / time.Second)
}

// FreshnessThreshold is the minimum time between two forward refreshes of a
// series with this granularity.
func (g Granularity) FreshnessThreshold() time.Duration {
	threshold := g.Duration / 60
	if threshold < minFreshness {
		return minFreshness
	}
	if threshold > maxFreshness {
		return maxFreshness
	}
	return threshold
}
