// Package bulk guards iteration over large record sets. Bulk tools (dedupe,
// migration, batch enhance) wrap their loops in a Breaker that aborts when
// the elapsed time, item count, or a single item's serialized size exceeds
// its budget, reporting which threshold tripped.
package bulk

import (
	"errors"
	"fmt"
	"time"
)

// ErrTripped is the base error for every breaker abort.
var ErrTripped = errors.New("bulk operation aborted")

// Trip reasons.
const (
	ReasonElapsed  = "elapsed"
	ReasonItems    = "items"
	ReasonItemSize = "item_size"
)

// Default thresholds.
const (
	DefaultMaxElapsed   = 30 * time.Second
	DefaultMaxItems     = 50000
	DefaultMaxItemBytes = 100 * 1024
)

// Breaker enforces the three budgets. Zero values adopt the defaults.
type Breaker struct {
	MaxElapsed   time.Duration
	MaxItems     int
	MaxItemBytes int

	started time.Time
	items   int
	now     func() time.Time
}

// TripError carries the threshold that fired; it unwraps to ErrTripped.
type TripError struct {
	Reason string
	Detail string
}

func (e *TripError) Error() string {
	return fmt.Sprintf("%v (%s): %s", ErrTripped, e.Reason, e.Detail)
}

func (e *TripError) Unwrap() error { return ErrTripped }

// New returns a Breaker with the default budgets.
func New() *Breaker {
	return &Breaker{
		MaxElapsed:   DefaultMaxElapsed,
		MaxItems:     DefaultMaxItems,
		MaxItemBytes: DefaultMaxItemBytes,
		now:          time.Now,
	}
}

// Start begins the elapsed-time budget. Check panics if Start was skipped.
func (b *Breaker) Start() {
	if b.now == nil {
		b.now = time.Now
	}
	if b.MaxElapsed == 0 {
		b.MaxElapsed = DefaultMaxElapsed
	}
	if b.MaxItems == 0 {
		b.MaxItems = DefaultMaxItems
	}
	if b.MaxItemBytes == 0 {
		b.MaxItemBytes = DefaultMaxItemBytes
	}
	b.started = b.now()
	b.items = 0
}

// Check accounts one item of the given serialized size and returns a
// *TripError when any budget is exhausted. The thresholds are exact: item
// number MaxItems passes, MaxItems+1 trips; an item of exactly MaxItemBytes
// passes.
func (b *Breaker) Check(itemSize int) error {
	if b.started.IsZero() {
		panic("bulk: Check called before Start")
	}
	if elapsed := b.now().Sub(b.started); elapsed > b.MaxElapsed {
		return &TripError{Reason: ReasonElapsed, Detail: fmt.Sprintf("elapsed %s exceeds %s", elapsed.Round(time.Millisecond), b.MaxElapsed)}
	}
	b.items++
	if b.items > b.MaxItems {
		return &TripError{Reason: ReasonItems, Detail: fmt.Sprintf("item count %d exceeds %d", b.items, b.MaxItems)}
	}
	if itemSize > b.MaxItemBytes {
		return &TripError{Reason: ReasonItemSize, Detail: fmt.Sprintf("item size %d exceeds %d bytes", itemSize, b.MaxItemBytes)}
	}
	return nil
}

// Items returns how many items have been checked since Start.
func (b *Breaker) Items() int { return b.items }
