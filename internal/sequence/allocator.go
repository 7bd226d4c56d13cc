package sequence

import (
	"context"
	"fmt"
	"time"
)

// CounterStore is the persistence contract the allocator needs: an atomic
// increment-and-read per (type, date) key. *repository.WorkflowRepository
// satisfies it.
type CounterStore interface {
	AllocateSequence(ctx context.Context, sequenceType, sequenceDate string) (int, error)
	ResetSequence(ctx context.Context, sequenceType, sequenceDate string) error
}

// Allocator produces unique, date-scoped, human-readable document numbers of
// the form PREFIX-TYPE-YYMMDD-NNN.
type Allocator struct {
	store  CounterStore
	prefix string
}

// NewAllocator creates an Allocator. prefix is the leading token of every
// generated number, e.g. "DOC".
func NewAllocator(store CounterStore, prefix string) *Allocator {
	return &Allocator{store: store, prefix: prefix}
}

// Allocate reserves the next counter for (sequenceType, date) and returns it
// together with the formatted document number. Counters start at 1 per key
// and are never reused, even if the caller later discards the number.
func (a *Allocator) Allocate(ctx context.Context, sequenceType string, date time.Time) (int, string, error) {
	counter, err := a.store.AllocateSequence(ctx, sequenceType, date.Format("2006-01-02"))
	if err != nil {
		return 0, "", fmt.Errorf("allocate sequence %s: %w", sequenceType, err)
	}
	return counter, a.Format(sequenceType, date, counter), nil
}

// Reset sets the counter for (sequenceType, date) back to zero. This is an
// administrative recovery operation; callers must audit it.
func (a *Allocator) Reset(ctx context.Context, sequenceType string, date time.Time) error {
	if err := a.store.ResetSequence(ctx, sequenceType, date.Format("2006-01-02")); err != nil {
		return fmt.Errorf("reset sequence %s: %w", sequenceType, err)
	}
	return nil
}

// Format renders a document number. The counter is zero-padded to three
// digits and keeps growing past 999 without truncation.
func (a *Allocator) Format(sequenceType string, date time.Time, counter int) string {
	return fmt.Sprintf("%s-%s-%s-%03d", a.prefix, sequenceType, date.Format("060102"), counter)
}
