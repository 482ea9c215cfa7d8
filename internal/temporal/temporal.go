// Package temporal implements the bitemporal time model shared by every
// persisted node and edge: a valid-time interval (when a fact is true in the
// modeled world) and a transaction-time interval (when the fact was recorded).
// All timestamps are integer milliseconds since the Unix epoch.
package temporal

import (
	"fmt"
	"time"
)

// MaxDate is the open-interval sentinel, 9999-12-31T23:59:59.999Z in epoch
// milliseconds. An interval whose End equals MaxDate is still open.
const MaxDate int64 = 253402300799000

// Now returns the current wall clock in epoch milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// Clock abstracts the wall clock so services and tests can pin time.
type Clock func() int64

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// IntervalError reports an invalid interval construction or mutation.
type IntervalError struct {
	Op     string
	Start  int64
	End    int64
	Reason string
}

func (e *IntervalError) Error() string {
	return fmt.Sprintf("invalid interval in %s [%d, %d): %s", e.Op, e.Start, e.End, e.Reason)
}

// OpenInterval returns the interval [start, MaxDate).
func OpenInterval(start int64) (Interval, error) {
	if start > MaxDate {
		return Interval{}, &IntervalError{Op: "open", Start: start, End: MaxDate, Reason: "start exceeds MaxDate"}
	}
	return Interval{Start: start, End: MaxDate}, nil
}

// Close returns a copy of iv with End set to t. Closing before Start is an
// inversion and is rejected.
func (iv Interval) Close(t int64) (Interval, error) {
	if t < iv.Start {
		return Interval{}, &IntervalError{Op: "close", Start: iv.Start, End: t, Reason: "end precedes start"}
	}
	if t > MaxDate {
		return Interval{}, &IntervalError{Op: "close", Start: iv.Start, End: t, Reason: "end exceeds MaxDate"}
	}
	return Interval{Start: iv.Start, End: t}, nil
}

// IsOpen reports whether the interval's end is the MaxDate sentinel.
func (iv Interval) IsOpen() bool {
	return iv.End == MaxDate
}

// Contains reports whether t falls inside the half-open interval.
func (iv Interval) Contains(t int64) bool {
	return iv.Start <= t && t < iv.End
}

// Valid reports whether Start <= End.
func (iv Interval) Valid() bool {
	return iv.Start <= iv.End
}

// Kind selects how a Predicate expands into start/end comparisons.
type Kind int

const (
	// KindCurrent matches rows whose interval end is still MaxDate.
	KindCurrent Kind = iota
	// KindLiveAt matches rows whose interval contains a single instant.
	KindLiveAt
	// KindOver matches rows whose interval overlaps a window.
	KindOver
)

// Predicate is a declarative bitemporal condition. Query builders expand it
// into comparisons against vt_start/vt_end and/or tt_start/tt_end; the
// predicate itself never touches storage.
type Predicate struct {
	Kind            Kind
	ValidTime       bool
	TransactionTime bool
	At              int64
	From            int64
	To              int64
}

// CurrentTT matches rows that are currently recorded (tt_end = MaxDate).
func CurrentTT() Predicate {
	return Predicate{Kind: KindCurrent, TransactionTime: true}
}

// CurrentVT matches rows that are currently valid (vt_end = MaxDate).
func CurrentVT() Predicate {
	return Predicate{Kind: KindCurrent, ValidTime: true}
}

// LiveAt matches rows live at instant t on both axes:
// vt_start <= t < vt_end and tt_start <= t < tt_end.
func LiveAt(t int64) (Predicate, error) {
	if t > MaxDate {
		return Predicate{}, &IntervalError{Op: "liveAt", Start: t, End: t, Reason: "instant exceeds MaxDate"}
	}
	return Predicate{Kind: KindLiveAt, ValidTime: true, TransactionTime: true, At: t}, nil
}

// ValidOver matches rows whose valid-time interval overlaps [from, to].
func ValidOver(from, to int64) (Predicate, error) {
	if from > to {
		return Predicate{}, &IntervalError{Op: "validOver", Start: from, End: to, Reason: "window inverted"}
	}
	if to > MaxDate {
		return Predicate{}, &IntervalError{Op: "validOver", Start: from, End: to, Reason: "window exceeds MaxDate"}
	}
	return Predicate{Kind: KindOver, ValidTime: true, From: from, To: to}, nil
}
