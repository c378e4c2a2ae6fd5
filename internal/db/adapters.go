package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/compass/internal/calendar"
	"github.com/hpungsan/compass/internal/clock"
	"github.com/hpungsan/compass/internal/decision"
	"github.com/hpungsan/compass/internal/scheduler"
	"github.com/hpungsan/compass/internal/signals"
)

// CalendarSource serves imported events as calendar snapshots. A calendar
// that was never imported, or whose last import is older than StaleAfter,
// is reported stale.
type CalendarSource struct {
	DB         *sql.DB
	Clock      clock.Clock
	StaleAfter time.Duration // 0 disables the freshness check
	LookAhead  time.Duration
	LookBack   time.Duration
}

// Snapshot loads events inside the look-back/look-ahead window around now.
func (s *CalendarSource) Snapshot(ctx context.Context) (calendar.Snapshot, error) {
	clk := s.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	now := clk.Now()

	syncedAt, ok, err := LastSync(ctx, s.DB)
	if err != nil {
		return calendar.Snapshot{}, err
	}
	if !ok {
		return calendar.Snapshot{Stale: true}, nil
	}
	fetchedAt := time.Unix(syncedAt, 0).UTC()
	if s.StaleAfter > 0 && now.Sub(fetchedAt) > s.StaleAfter {
		return calendar.Snapshot{FetchedAt: fetchedAt, Stale: true}, nil
	}

	lookAhead, lookBack := s.LookAhead, s.LookBack
	if lookAhead <= 0 {
		lookAhead = signals.DefaultLookAhead
	}
	if lookBack <= 0 {
		lookBack = signals.DefaultLookBack
	}

	events, err := EventsBetween(ctx, s.DB, now.Add(-lookBack), now.Add(lookAhead))
	if err != nil {
		return calendar.Snapshot{}, err
	}
	return calendar.Snapshot{Events: events, FetchedAt: fetchedAt}, nil
}

// Ledger answers synthesis questions from the syntheses table.
type Ledger struct {
	DB *sql.DB
}

// SynthesisCompleted reports whether a synthesis was recorded for eventID.
func (l *Ledger) SynthesisCompleted(ctx context.Context, eventID string) (bool, error) {
	return HasSynthesis(ctx, l.DB, eventID)
}

// AuditStore appends published decisions to the decisions table.
type AuditStore struct {
	DB *sql.DB

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// RecordDecision stores ev with a fresh ULID.
func (a *AuditStore) RecordDecision(ctx context.Context, ev scheduler.AuditEvent) error {
	rec := &DecisionRecord{
		ID:         a.newID(ev.At),
		Trigger:    string(ev.Trigger),
		NewMode:    ev.NewMode.String(),
		Confidence: ev.Confidence.String(),
		Reason:     ev.Reason,
		Pinned:     ev.Pinned,
		DecidedAt:  ev.At.Unix(),
	}
	if ev.PreviousMode.Valid() {
		rec.PreviousMode = ev.PreviousMode.String()
	}
	return InsertDecision(ctx, a.DB, rec)
}

// newID returns a ULID ordered by at; ties within a millisecond stay ordered.
func (a *AuditStore) newID(at time.Time) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.entropy == nil {
		a.entropy = ulid.Monotonic(rand.Reader, 0)
	}
	id, err := ulid.New(ulid.Timestamp(at), a.entropy)
	if err != nil {
		// Monotonic entropy overflowed or the clock went backwards; fall back to a fresh ID.
		return ulid.Make().String()
	}
	return id.String()
}

// PinStore persists the scheduler pin in the single-row pin table.
type PinStore struct {
	DB *sql.DB
}

// LoadPin returns the stored pin, or nil.
func (p *PinStore) LoadPin(ctx context.Context) (*scheduler.Pin, error) {
	rec, err := GetPin(ctx, p.DB)
	if err != nil || rec == nil {
		return nil, err
	}
	mode, err := decision.ParseMode(rec.Mode)
	if err != nil {
		return nil, fmt.Errorf("stored pin: %w", err)
	}
	return &scheduler.Pin{Mode: mode, SetAt: time.Unix(rec.SetAt, 0).UTC()}, nil
}

// SavePin stores pin, or clears the stored pin when pin is nil.
func (p *PinStore) SavePin(ctx context.Context, pin *scheduler.Pin) error {
	if pin == nil {
		return ClearPin(ctx, p.DB)
	}
	return SetPin(ctx, p.DB, pin.Mode.String(), pin.SetAt.Unix())
}

// Verify interface compliance at compile time.
var (
	_ calendar.Source          = (*CalendarSource)(nil)
	_ calendar.SynthesisLedger = (*Ledger)(nil)
	_ scheduler.AuditSink      = (*AuditStore)(nil)
	_ scheduler.PinStore       = (*PinStore)(nil)
)
