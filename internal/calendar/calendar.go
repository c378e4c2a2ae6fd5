package calendar

import (
	"context"
	"fmt"
	"time"
)

// Event is a normalized, time-boxed calendar entry.
// Only ID, Start, End and AllDay take part in mode decisions.
type Event struct {
	// ID uniquely identifies the event within its calendar
	ID string `json:"id" yaml:"id"`

	// Title is the event summary (display only)
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// Location is free-form location metadata (display only)
	Location string `json:"location,omitempty" yaml:"location,omitempty"`

	// Start is the inclusive start instant
	Start time.Time `json:"start" yaml:"start"`

	// End is the exclusive end instant
	End time.Time `json:"end" yaml:"end"`

	// AllDay events never drive a mode
	AllDay bool `json:"all_day,omitempty" yaml:"all_day,omitempty"`
}

// Problem names why an event was rejected.
type Problem string

const (
	ProblemMissingID      Problem = "missing_id"
	ProblemMissingStart   Problem = "missing_start"
	ProblemMissingEnd     Problem = "missing_end"
	ProblemEndBeforeStart Problem = "end_before_start"
)

// Validate reports the first data-quality problem with e, or "" if e is usable.
func (e Event) Validate() Problem {
	switch {
	case e.ID == "":
		return ProblemMissingID
	case e.Start.IsZero():
		return ProblemMissingStart
	case e.End.IsZero():
		return ProblemMissingEnd
	case e.End.Before(e.Start):
		return ProblemEndBeforeStart
	}
	return ""
}

// Snapshot is the calendar view handed to the scheduler.
type Snapshot struct {
	Events    []Event
	FetchedAt time.Time

	// Stale is set when the snapshot is older than the critical freshness threshold.
	// Stale snapshots are never used for decisions.
	Stale bool
}

// Source returns the current calendar snapshot. Implementations may block on I/O.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// SynthesisLedger answers whether a synthesis was recorded for an event.
type SynthesisLedger interface {
	SynthesisCompleted(ctx context.Context, eventID string) (bool, error)
}

// StaticSource serves a fixed event list. It is never stale.
type StaticSource struct {
	events []Event
}

// NewStaticSource copies events into a StaticSource.
func NewStaticSource(events []Event) *StaticSource {
	cp := make([]Event, len(events))
	copy(cp, events)
	return &StaticSource{events: cp}
}

// Snapshot returns a copy of the fixed event list.
func (s *StaticSource) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	cp := make([]Event, len(s.events))
	copy(cp, s.events)
	return Snapshot{Events: cp}, nil
}

// StaticLedger is an in-memory SynthesisLedger keyed by event ID.
type StaticLedger map[string]bool

// SynthesisCompleted reports whether eventID is marked complete.
func (l StaticLedger) SynthesisCompleted(_ context.Context, eventID string) (bool, error) {
	return l[eventID], nil
}

// FuncSource adapts a function to Source.
type FuncSource func(ctx context.Context) (Snapshot, error)

// Snapshot calls f.
func (f FuncSource) Snapshot(ctx context.Context) (Snapshot, error) {
	return f(ctx)
}

// String renders e for log messages.
func (e Event) String() string {
	return fmt.Sprintf("%s[%s..%s]", e.ID, e.Start.UTC().Format(time.RFC3339), e.End.UTC().Format(time.RFC3339))
}

var (
	_ Source          = (*StaticSource)(nil)
	_ Source          = FuncSource(nil)
	_ SynthesisLedger = StaticLedger(nil)
)
