// Package signals turns a calendar view and an instant into the small set of
// facts the decision engine reasons about. Everything here is pure: no I/O,
// no clock reads, no failure modes.
package signals

import (
	"time"

	"github.com/hpungsan/compass/internal/calendar"
)

// Signal names as they appear in Decision.SignalsUsed.
const (
	NameInEvent                   = "inEvent"
	NameMinutesToNextStart        = "minutesToNextStart"
	NameMinutesSinceLastEnd       = "minutesSinceLastEnd"
	NameNextEventHasOpenSynthesis = "nextEventHasOpenSynthesis"
	NameMinutesToCurrentEnd       = "minutesToCurrentEnd"
)

// Default bounded windows.
const (
	DefaultLookAhead = 24 * time.Hour
	DefaultLookBack  = 24 * time.Hour
)

// Signals is the derived, ephemeral view of "now" relative to the calendar.
// Nil minute fields mean "no such event inside the bounded window".
type Signals struct {
	InEvent             bool     `json:"inEvent"`
	MinutesToNextStart  *float64 `json:"minutesToNextStart"`
	MinutesSinceLastEnd *float64 `json:"minutesSinceLastEnd"`

	// NextEventHasOpenSynthesis is true when the most recently ended event has
	// no recorded synthesis completion.
	NextEventHasOpenSynthesis bool `json:"nextEventHasOpenSynthesis"`

	// MinutesToCurrentEnd is the time left in the authoritative current event.
	MinutesToCurrentEnd *float64 `json:"minutesToCurrentEnd,omitempty"`

	CurrentEventID   string `json:"currentEventId,omitempty"`
	NextEventID      string `json:"nextEventId,omitempty"`
	LastEndedEventID string `json:"lastEndedEventId,omitempty"`
}

// Options bounds the look-ahead/look-back windows and carries the synthesis
// flag resolved by the caller from the storage collaborator.
type Options struct {
	LookAhead time.Duration
	LookBack  time.Duration

	// SynthesisOpen is whether the most recently ended event still awaits a
	// synthesis. Ignored when no event ended inside the look-back window.
	SynthesisOpen bool
}

// DefaultOptions returns 24h windows and no open synthesis.
func DefaultOptions() Options {
	return Options{LookAhead: DefaultLookAhead, LookBack: DefaultLookBack}
}

// Report counts events that did not take part in normalization.
type Report struct {
	Considered int                      `json:"considered"`
	AllDay     int                      `json:"all_day"`
	Dropped    map[calendar.Problem]int `json:"dropped,omitempty"`
}

// DroppedTotal returns the number of malformed events.
func (r Report) DroppedTotal() int {
	n := 0
	for _, c := range r.Dropped {
		n += c
	}
	return n
}

// Normalize derives Signals from events at now. A nil events slice (no
// calendar view available) yields the all-absent signal set.
func Normalize(events []calendar.Event, now time.Time, opts Options) (Signals, Report) {
	opts = withDefaults(opts)
	usable, report := filter(events)

	var sig Signals

	if cur, ok := current(usable, now); ok {
		sig.InEvent = true
		sig.CurrentEventID = cur.ID
		sig.MinutesToCurrentEnd = minutes(cur.End.Sub(now))
	}

	if next, ok := nextStart(usable, now, opts.LookAhead); ok {
		sig.NextEventID = next.ID
		sig.MinutesToNextStart = minutes(next.Start.Sub(now))
	}

	if last, ok := lastEnded(usable, now, opts.LookBack); ok {
		sig.LastEndedEventID = last.ID
		sig.MinutesSinceLastEnd = minutes(now.Sub(last.End))
		sig.NextEventHasOpenSynthesis = opts.SynthesisOpen
	}

	return sig, report
}

// LastEnded returns the most recently ended usable event inside lookBack.
// Callers use it to resolve the synthesis flag before calling Normalize.
func LastEnded(events []calendar.Event, now time.Time, lookBack time.Duration) (calendar.Event, bool) {
	if lookBack <= 0 {
		lookBack = DefaultLookBack
	}
	usable, _ := filter(events)
	return lastEnded(usable, now, lookBack)
}

func withDefaults(opts Options) Options {
	if opts.LookAhead <= 0 {
		opts.LookAhead = DefaultLookAhead
	}
	if opts.LookBack <= 0 {
		opts.LookBack = DefaultLookBack
	}
	return opts
}

// filter drops all-day and malformed events.
func filter(events []calendar.Event) ([]calendar.Event, Report) {
	report := Report{Considered: len(events)}
	usable := make([]calendar.Event, 0, len(events))
	for _, e := range events {
		if e.AllDay {
			report.AllDay++
			continue
		}
		if p := e.Validate(); p != "" {
			if report.Dropped == nil {
				report.Dropped = make(map[calendar.Problem]int)
			}
			report.Dropped[p]++
			continue
		}
		usable = append(usable, e)
	}
	return usable, report
}

// current picks the authoritative in-progress event: soonest end, then
// earliest start, then lowest ID.
func current(events []calendar.Event, now time.Time) (calendar.Event, bool) {
	var best calendar.Event
	found := false
	for _, e := range events {
		if e.Start.After(now) || !now.Before(e.End) {
			continue
		}
		if !found || endsFirst(e, best) {
			best, found = e, true
		}
	}
	return best, found
}

func endsFirst(a, b calendar.Event) bool {
	if !a.End.Equal(b.End) {
		return a.End.Before(b.End)
	}
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	return a.ID < b.ID
}

func nextStart(events []calendar.Event, now time.Time, lookAhead time.Duration) (calendar.Event, bool) {
	var best calendar.Event
	found := false
	for _, e := range events {
		if !e.Start.After(now) || e.Start.Sub(now) > lookAhead {
			continue
		}
		if !found || e.Start.Before(best.Start) || (e.Start.Equal(best.Start) && e.ID < best.ID) {
			best, found = e, true
		}
	}
	return best, found
}

func lastEnded(events []calendar.Event, now time.Time, lookBack time.Duration) (calendar.Event, bool) {
	var best calendar.Event
	found := false
	for _, e := range events {
		if e.End.After(now) || now.Sub(e.End) > lookBack {
			continue
		}
		if !found || e.End.After(best.End) || (e.End.Equal(best.End) && e.ID < best.ID) {
			best, found = e, true
		}
	}
	return best, found
}

func minutes(d time.Duration) *float64 {
	m := d.Minutes()
	return &m
}
