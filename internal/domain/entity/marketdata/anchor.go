package marketdata

import "fmt"

type AnchorKind int

const (
	// AnchorLatest asks for the most recent candles available.
	AnchorLatest AnchorKind = iota
	// AnchorBefore asks for candles starting strictly before Time.
	AnchorBefore
	// AnchorAfter asks for candles starting strictly after Time.
	AnchorAfter
)

// Anchor positions a fetch relative to an exclusive time bound.
type Anchor struct {
	Kind AnchorKind
	Time TimeInt
}

func Latest() Anchor {
	return Anchor{Kind: AnchorLatest}
}

func BeforeTime(t TimeInt) Anchor {
	return Anchor{Kind: AnchorBefore, Time: t}
}

func AfterTime(t TimeInt) Anchor {
	return Anchor{Kind: AnchorAfter, Time: t}
}

// Admits reports whether a candle starting at t lies on the requested side
// of the anchor.
func (a Anchor) Admits(t TimeInt) bool {
	switch a.Kind {
	case AnchorBefore:
		return t < a.Time
	case AnchorAfter:
		return t > a.Time
	}
	return true
}

func (a Anchor) String() string {
	switch a.Kind {
	case AnchorBefore:
		return fmt.Sprintf("before(%d)", a.Time)
	case AnchorAfter:
		return fmt.Sprintf("after(%d)", a.Time)
	}
	return "latest"
}
