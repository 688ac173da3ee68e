package marketdata

import (
	"errors"
	"fmt"
)

// SequenceErrorKind classifies a broken sequence invariant.
type SequenceErrorKind int

const (
	NonChronological SequenceErrorKind = iota + 1
	DuplicateOrStale
	IncompleteNotLast
	Disjoint
)

func (k SequenceErrorKind) String() string {
	switch k {
	case NonChronological:
		return "non-chronological"
	case DuplicateOrStale:
		return "duplicate or stale"
	case IncompleteNotLast:
		return "incomplete candle not last"
	case Disjoint:
		return "disjoint sequences"
	}
	return "unknown"
}

// SequenceError reports a candle run that breaks ordering or completeness
// rules. Index is the offending position in the input, or -1 when the error
// concerns whole sequences.
type SequenceError struct {
	Kind  SequenceErrorKind
	Index int
	Time  TimeInt
}

func (e *SequenceError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("candle sequence: %s", e.Kind)
	}
	return fmt.Sprintf("candle sequence: %s at index %d (time %d)", e.Kind, e.Index, e.Time)
}

// Is matches any SequenceError of the same kind, so errors.Is(err,
// ErrDisjoint) works without comparing positions.
func (e *SequenceError) Is(target error) bool {
	other, ok := target.(*SequenceError)
	return ok && other.Kind == e.Kind
}

var (
	ErrNonChronological  error = &SequenceError{Kind: NonChronological, Index: -1}
	ErrDuplicateOrStale  error = &SequenceError{Kind: DuplicateOrStale, Index: -1}
	ErrIncompleteNotLast error = &SequenceError{Kind: IncompleteNotLast, Index: -1}
	ErrDisjoint          error = &SequenceError{Kind: Disjoint, Index: -1}

	ErrKeyMismatch = errors.New("candle sequences belong to different instrument or granularity")
)
