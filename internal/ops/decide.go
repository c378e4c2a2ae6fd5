package ops

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/compass/internal/clock"
	"github.com/hpungsan/compass/internal/config"
	"github.com/hpungsan/compass/internal/db"
	"github.com/hpungsan/compass/internal/decision"
	"github.com/hpungsan/compass/internal/errors"
	"github.com/hpungsan/compass/internal/scheduler"
)

// DecideInput contains parameters for the Decide operation.
type DecideInput struct {
	// At evaluates at a different instant. It turns the run into a what-if:
	// the freshness check is skipped and nothing is recorded.
	At time.Time

	// Pin evaluates as if the mode were forced, without persisting it.
	Pin string

	// Strict fails with CALENDAR_UNAVAILABLE instead of falling back
	// when the evaluation ran without a calendar view.
	Strict bool
}

// Decide runs a single evaluation and returns the published result.
// A plain run honours the persisted pin and is recorded in the audit trail.
func Decide(ctx context.Context, database *sql.DB, cfg *config.Config, input DecideInput, opts SessionOptions) (*scheduler.Result, error) {
	whatIf := !input.At.IsZero() || input.Pin != ""
	if !input.At.IsZero() {
		opts.Clock = clock.Fixed{T: input.At}
		opts.IgnoreStale = true
	}
	if whatIf {
		opts.NoAudit = true
		opts.NoPins = true
	}

	s, err := NewScheduler(database, cfg, opts)
	if err != nil {
		return nil, err
	}

	if input.Pin != "" {
		mode, err := parseMode(input.Pin)
		if err != nil {
			return nil, err
		}
		res, err := s.ForceMode(ctx, mode)
		if err != nil {
			return nil, err
		}
		return &res, nil
	}

	if err := s.RestorePin(ctx); err != nil {
		return nil, err
	}
	res, err := evaluateOnce(ctx, s, scheduler.TriggerAppOpen)
	if err != nil {
		return nil, err
	}
	if input.Strict && !res.CalendarAvailable {
		return nil, errors.NewCalendarUnavailable(nil)
	}
	return res, nil
}

// Force pins mode, persists it and records the forced decision.
func Force(ctx context.Context, database *sql.DB, cfg *config.Config, mode string, opts SessionOptions) (*scheduler.Result, error) {
	m, err := parseMode(mode)
	if err != nil {
		return nil, err
	}
	s, err := NewScheduler(database, cfg, opts)
	if err != nil {
		return nil, err
	}
	if err := s.RestorePin(ctx); err != nil {
		return nil, err
	}
	res, err := s.ForceMode(ctx, m)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Unpin clears the persisted pin and returns the re-evaluated result.
func Unpin(ctx context.Context, database *sql.DB, cfg *config.Config, opts SessionOptions) (*scheduler.Result, error) {
	s, err := NewScheduler(database, cfg, opts)
	if err != nil {
		return nil, err
	}
	if err := s.RestorePin(ctx); err != nil {
		return nil, err
	}
	s.Unpin(ctx)
	if err := s.Wait(ctx); err != nil {
		return nil, errors.NewCancelled("unpin")
	}
	res, ok := s.Current()
	if !ok {
		return nil, errors.NewInternal(errNoResult)
	}
	return &res, nil
}

// parseMode maps a user-supplied mode name to an INVALID_MODE error.
func parseMode(name string) (decision.Mode, error) {
	m, err := decision.ParseMode(name)
	if err != nil {
		return 0, errors.NewInvalidMode(name)
	}
	return m, nil
}

// evaluateOnce triggers one evaluation and waits for its result.
func evaluateOnce(ctx context.Context, s *scheduler.Scheduler, t scheduler.Trigger) (*scheduler.Result, error) {
	s.Evaluate(t)
	if err := s.Wait(ctx); err != nil {
		return nil, errors.NewCancelled("evaluate")
	}
	res, ok := s.Current()
	if !ok {
		return nil, errors.NewInternal(errNoResult)
	}
	return &res, nil
}

// StatusOutput summarizes persisted state.
type StatusOutput struct {
	Pin            *scheduler.Pin     `json:"pin"`
	LastSyncAt     *int64             `json:"last_sync_at"`
	Events         int                `json:"events"`
	Decisions      int                `json:"decisions"`
	LatestDecision *db.DecisionRecord `json:"latest_decision,omitempty"`
}

// Status reports the pin, calendar freshness and audit trail size.
func Status(ctx context.Context, database *sql.DB) (*StatusOutput, error) {
	pin, err := (&db.PinStore{DB: database}).LoadPin(ctx)
	if err != nil {
		return nil, err
	}
	out := &StatusOutput{Pin: pin}

	syncedAt, ok, err := db.LastSync(ctx, database)
	if err != nil {
		return nil, err
	}
	if ok {
		out.LastSyncAt = &syncedAt
	}

	if out.Events, err = db.CountEvents(ctx, database); err != nil {
		return nil, err
	}
	if out.Decisions, err = db.CountDecisions(ctx, database); err != nil {
		return nil, err
	}

	latest, err := db.ListDecisions(ctx, database, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(latest) > 0 {
		out.LatestDecision = &latest[0]
	}
	return out, nil
}
