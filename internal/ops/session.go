package ops

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/hpungsan/compass/internal/clock"
	"github.com/hpungsan/compass/internal/config"
	"github.com/hpungsan/compass/internal/db"
	"github.com/hpungsan/compass/internal/decision"
	"github.com/hpungsan/compass/internal/metrics"
	"github.com/hpungsan/compass/internal/scheduler"
)

// SessionOptions tunes the scheduler built by NewScheduler.
type SessionOptions struct {
	Clock     clock.Clock         // default: real clock
	NewTicker clock.TickerFactory // default: real ticker
	Logger    *zap.Logger
	Metrics   *metrics.Metrics

	// NoAudit skips writing published decisions to the audit trail.
	NoAudit bool

	// NoPins keeps forced modes in memory only.
	NoPins bool

	// IgnoreStale disables the calendar freshness check.
	IgnoreStale bool
}

// NewScheduler wires a scheduler to the database: imported events as the
// calendar, recorded syntheses as the ledger, the decisions table as the
// audit sink and the pin table as the pin store.
func NewScheduler(database *sql.DB, cfg *config.Config, opts SessionOptions) (*scheduler.Scheduler, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	sigOpts := cfg.SignalOptions()

	source := &db.CalendarSource{
		DB:         database,
		Clock:      clk,
		StaleAfter: cfg.StaleAfter(),
		LookAhead:  sigOpts.LookAhead,
		LookBack:   sigOpts.LookBack,
	}
	if opts.IgnoreStale {
		source.StaleAfter = 0
	}

	so := scheduler.Options{
		Source:          source,
		Ledger:          &db.Ledger{DB: database},
		Engine:          decision.NewEngine(cfg.Thresholds()),
		SignalOptions:   sigOpts,
		Clock:           clk,
		NewTicker:       opts.NewTicker,
		Interval:        cfg.EvaluationInterval(),
		CalendarTimeout: cfg.CalendarTimeout(),
		Logger:          opts.Logger,
		Metrics:         opts.Metrics,
	}
	if !opts.NoAudit {
		so.Audit = &db.AuditStore{DB: database}
	}
	if !opts.NoPins {
		so.Pins = &db.PinStore{DB: database}
	}
	return scheduler.New(so)
}
