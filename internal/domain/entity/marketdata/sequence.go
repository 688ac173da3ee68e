package marketdata

import "iter"

// Sequence is an immutable, strictly time-ordered run of candles for one
// instrument and granularity. Only the last candle may be incomplete.
// The zero value is an empty sequence with no key.
type Sequence struct {
	instrument  Instrument
	granularity Granularity
	candles     []Candle
}

// NewSequence validates candles and returns a sequence owning a copy of them.
func NewSequence(instrument Instrument, granularity Granularity, candles []Candle) (Sequence, error) {
	if err := validate(candles); err != nil {
		return Sequence{}, err
	}
	owned := make([]Candle, len(candles))
	copy(owned, candles)
	return Sequence{instrument: instrument, granularity: granularity, candles: owned}, nil
}

// EmptySequence returns a sequence with a key and no candles.
func EmptySequence(instrument Instrument, granularity Granularity) Sequence {
	return Sequence{instrument: instrument, granularity: granularity}
}

func validate(candles []Candle) error {
	last := len(candles) - 1
	for i, c := range candles {
		if i > 0 {
			prev := candles[i-1].Time
			if c.Time < prev {
				return &SequenceError{Kind: NonChronological, Index: i, Time: c.Time}
			}
			if c.Time == prev {
				return &SequenceError{Kind: DuplicateOrStale, Index: i, Time: c.Time}
			}
		}
		if !c.Complete && i != last {
			return &SequenceError{Kind: IncompleteNotLast, Index: i, Time: c.Time}
		}
	}
	return nil
}

func (s Sequence) Instrument() Instrument {
	return s.instrument
}

func (s Sequence) Granularity() Granularity {
	return s.granularity
}

func (s Sequence) Key() Key {
	return Key{Instrument: s.instrument, Granularity: s.granularity}
}

func (s Sequence) Len() int {
	return len(s.candles)
}

func (s Sequence) IsEmpty() bool {
	return len(s.candles) == 0
}

// At returns the candle at index i, oldest first. It panics when i is out of
// range, like a slice index.
func (s Sequence) At(i int) Candle {
	return s.candles[i]
}

func (s Sequence) First() (Candle, bool) {
	if len(s.candles) == 0 {
		return Candle{}, false
	}
	return s.candles[0], true
}

func (s Sequence) Last() (Candle, bool) {
	if len(s.candles) == 0 {
		return Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// Start is the first candle time, or MaxTime when the sequence is empty.
func (s Sequence) Start() TimeInt {
	if len(s.candles) == 0 {
		return MaxTime
	}
	return s.candles[0].Time
}

// End is the last candle time, or MinTime when the sequence is empty.
func (s Sequence) End() TimeInt {
	if len(s.candles) == 0 {
		return MinTime
	}
	return s.candles[len(s.candles)-1].Time
}

// Candles returns a copy of the candles, oldest first.
func (s Sequence) Candles() []Candle {
	out := make([]Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// All iterates over the candles oldest first. The iterator can be reused.
func (s Sequence) All() iter.Seq2[int, Candle] {
	return func(yield func(int, Candle) bool) {
		for i, c := range s.candles {
			if !yield(i, c) {
				return
			}
		}
	}
}

// Equal reports whether both sequences share a key and identical candles.
func (s Sequence) Equal(other Sequence) bool {
	if s.Key() != other.Key() || len(s.candles) != len(other.candles) {
		return false
	}
	for i := range s.candles {
		if !s.candles[i].Equal(other.candles[i]) {
			return false
		}
	}
	return true
}

// Merge returns the union of two sequences with the same key. Non-empty
// inputs must share at least one candle start time. On a shared time the
// complete candle wins; between equally complete candles the one from the
// sequence reaching further forward wins, b on a tie.
func Merge(a, b Sequence) (Sequence, error) {
	if a.Key() != b.Key() {
		return Sequence{}, ErrKeyMismatch
	}
	if a.IsEmpty() {
		return NewSequence(b.instrument, b.granularity, b.candles)
	}
	if b.IsEmpty() {
		return NewSequence(a.instrument, a.granularity, a.candles)
	}

	preferB := b.End() >= a.End()
	merged := make([]Candle, 0, len(a.candles)+len(b.candles))
	shared := false
	i, j := 0, 0
	for i < len(a.candles) && j < len(b.candles) {
		ca, cb := a.candles[i], b.candles[j]
		switch {
		case ca.Time < cb.Time:
			merged = append(merged, ca)
			i++
		case ca.Time > cb.Time:
			merged = append(merged, cb)
			j++
		default:
			shared = true
			switch Compare(ca, cb) {
			case After:
				merged = append(merged, ca)
			case Before:
				merged = append(merged, cb)
			default:
				if preferB {
					merged = append(merged, cb)
				} else {
					merged = append(merged, ca)
				}
			}
			i++
			j++
		}
	}
	if !shared {
		return Sequence{}, &SequenceError{Kind: Disjoint, Index: -1, Time: a.Start()}
	}
	merged = append(merged, a.candles[i:]...)
	merged = append(merged, b.candles[j:]...)
	return NewSequence(a.instrument, a.granularity, merged)
}
