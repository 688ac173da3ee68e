package marketdata

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidInstrument = errors.New("invalid instrument")

// Instrument names a currency pair in BASE_QUOTE form, e.g. EUR_USD.
type Instrument string

// ParseInstrument accepts "eur_usd", "EUR/USD" or "EUR-USD" and normalizes
// them to EUR_USD.
func ParseInstrument(raw string) (Instrument, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	name = strings.NewReplacer("/", "_", "-", "_").Replace(name)
	base, quote, ok := strings.Cut(name, "_")
	if !ok || !isCode(base) || !isCode(quote) {
		return "", fmt.Errorf("%w: %q", ErrInvalidInstrument, raw)
	}
	return Instrument(name), nil
}

func isCode(part string) bool {
	if part == "" || len(part) > 8 {
		return false
	}
	for _, r := range part {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func (i Instrument) String() string {
	return string(i)
}

// Key identifies one cached series.
type Key struct {
	Instrument  Instrument
	Granularity Granularity
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Instrument, k.Granularity.Code)
}
