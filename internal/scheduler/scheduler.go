// Package scheduler decides when the decision engine runs and owns the pin.
//
// Evaluations are single-flight: at most one runs at a time, triggers that
// arrive meanwhile collapse into one re-run with the latest trigger, and a
// result is published only if no newer trigger, force or unpin was accepted
// while it was computed. Published results reach subscribers and the audit
// sink in acceptance order.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/compass/internal/calendar"
	"github.com/hpungsan/compass/internal/capsule"
	"github.com/hpungsan/compass/internal/clock"
	"github.com/hpungsan/compass/internal/decision"
	"github.com/hpungsan/compass/internal/errors"
	"github.com/hpungsan/compass/internal/logging"
	"github.com/hpungsan/compass/internal/metrics"
	"github.com/hpungsan/compass/internal/signals"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultInterval        = 60 * time.Second
	DefaultCalendarTimeout = 5 * time.Second
)

// Pin is an explicit manual override.
type Pin struct {
	Mode  decision.Mode `json:"mode"`
	SetAt time.Time     `json:"set_at"`
}

// PinStore persists the pin across restarts. SavePin(nil) clears it.
type PinStore interface {
	LoadPin(ctx context.Context) (*Pin, error)
	SavePin(ctx context.Context, pin *Pin) error
}

// Result is one published evaluation.
type Result struct {
	Seq          uint64            `json:"seq"`
	Trigger      Trigger           `json:"trigger"`
	PreviousMode decision.Mode     `json:"previous_mode,omitempty"`
	Decision     decision.Decision `json:"decision"`
	Capsule      capsule.Capsule   `json:"capsule"`
	Signals      signals.Signals   `json:"signals"`

	// CalendarAvailable is false when the evaluation ran without a calendar view.
	CalendarAvailable bool      `json:"calendar_available"`
	At                time.Time `json:"at"`
}

// Options configures a Scheduler. Source is required.
type Options struct {
	Source          calendar.Source
	Ledger          calendar.SynthesisLedger
	Engine          *decision.Engine
	SignalOptions   signals.Options
	Clock           clock.Clock
	NewTicker       clock.TickerFactory
	Interval        time.Duration
	CalendarTimeout time.Duration
	Audit           AuditSink
	Pins            PinStore
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
}

// Scheduler runs evaluations and publishes their results.
type Scheduler struct {
	engine          *decision.Engine
	sigOpts         signals.Options
	newTicker       clock.TickerFactory
	interval        time.Duration
	calendarTimeout time.Duration
	audit           AuditSink
	pins            PinStore
	log             *zap.Logger
	metrics         *metrics.Metrics

	// publishMu orders commits: whoever holds it publishes next.
	publishMu sync.Mutex

	mu      sync.Mutex
	source  calendar.Source
	ledger  calendar.SynthesisLedger
	clock   clock.Clock
	baseCtx context.Context
	started bool
	pin     *Pin
	gen     uint64
	seq     uint64
	running bool
	pending *Trigger
	idle    chan struct{}
	current *Result
	subs    map[int]func(Result)
	nextSub int

	timerCancel context.CancelFunc
	timerDone   chan struct{}
}

// New creates a Scheduler. It does not start the periodic timer.
func New(opts Options) (*Scheduler, error) {
	if opts.Source == nil {
		return nil, errors.NewInvalidRequest("scheduler requires a calendar source")
	}
	s := &Scheduler{
		engine:          opts.Engine,
		sigOpts:         opts.SignalOptions,
		newTicker:       opts.NewTicker,
		interval:        opts.Interval,
		calendarTimeout: opts.CalendarTimeout,
		audit:           opts.Audit,
		pins:            opts.Pins,
		log:             logging.OrNop(opts.Logger),
		metrics:         opts.Metrics,
		source:          opts.Source,
		ledger:          opts.Ledger,
		clock:           opts.Clock,
		baseCtx:         context.Background(),
		subs:            make(map[int]func(Result)),
	}
	if s.engine == nil {
		s.engine = decision.NewEngine(decision.DefaultThresholds())
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.newTicker == nil {
		s.newTicker = clock.NewRealTicker
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.calendarTimeout <= 0 {
		s.calendarTimeout = DefaultCalendarTimeout
	}
	return s, nil
}

// Start restores a persisted pin, evaluates once with app_open and starts the
// periodic meeting_boundary_change timer. Later calls are no-ops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.baseCtx = ctx
	s.mu.Unlock()

	if err := s.RestorePin(ctx); err != nil {
		s.log.Warn("could not restore pin", zap.Error(err))
	}

	s.Evaluate(TriggerAppOpen)
	s.startTimer()
	return nil
}

// Stop cancels the periodic timer and waits for any in-flight evaluation.
func (s *Scheduler) Stop() {
	s.stopTimer()
	_ = s.Wait(context.Background())
}

// RestorePin loads the pin from the PinStore, if one is configured.
func (s *Scheduler) RestorePin(ctx context.Context) error {
	if s.pins == nil {
		return nil
	}
	pin, err := s.pins.LoadPin(ctx)
	if err != nil {
		return err
	}
	if pin != nil && !pin.Mode.Valid() {
		return fmt.Errorf("stored pin has invalid mode %d", uint8(pin.Mode))
	}
	s.mu.Lock()
	s.pin = pin
	s.mu.Unlock()
	return nil
}

// Evaluate accepts a trigger and returns immediately. If an evaluation is in
// flight the trigger is coalesced into a single re-run. Passing an unknown
// trigger is a programming error and panics; parse untrusted names with
// ParseTrigger first.
func (s *Scheduler) Evaluate(t Trigger) {
	if !t.Valid() {
		panic(fmt.Sprintf("scheduler: unknown trigger %q", string(t)))
	}

	s.mu.Lock()
	s.gen++
	if s.running {
		s.pending = &t
		s.mu.Unlock()
		s.metrics.IncCoalesced()
		s.log.Debug("trigger coalesced", zap.String("trigger", string(t)))
		return
	}
	s.running = true
	s.idle = make(chan struct{})
	gen := s.gen
	s.mu.Unlock()

	go s.loop(t, gen)
}

// ForceMode pins mode and publishes the pinned decision before returning.
// The pin stays until the next ForceMode or Unpin; periodic evaluations
// keep returning it.
func (s *Scheduler) ForceMode(ctx context.Context, mode decision.Mode) (Result, error) {
	if !mode.Valid() {
		return Result{}, errors.NewInvalidMode(mode.String())
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	s.gen++
	pin := &Pin{Mode: mode, SetAt: s.clock.Now()}
	s.pin = pin
	s.mu.Unlock()

	if s.pins != nil {
		if err := s.pins.SavePin(ctx, pin); err != nil {
			s.log.Warn("could not persist pin", zap.Error(err))
		}
	}

	d := s.engine.Decide(signals.Signals{}, &mode)
	res := Result{
		Trigger:           TriggerForce,
		Decision:          d,
		Capsule:           capsule.Build(d),
		CalendarAvailable: true,
		At:                pin.SetAt,
	}

	s.mu.Lock()
	res = s.commitLocked(res)
	s.mu.Unlock()

	s.notify(ctx, res)
	return res, nil
}

// Unpin clears the pin and re-evaluates from live signals. The re-evaluation
// is asynchronous; use Wait to observe its result.
func (s *Scheduler) Unpin(ctx context.Context) {
	s.publishMu.Lock()
	s.mu.Lock()
	s.gen++
	s.pin = nil
	s.mu.Unlock()

	if s.pins != nil {
		if err := s.pins.SavePin(ctx, nil); err != nil {
			s.log.Warn("could not clear persisted pin", zap.Error(err))
		}
	}
	s.publishMu.Unlock()

	s.Evaluate(TriggerUnpin)
}

// LoadScenario cancels the periodic timer, replaces the event source (and,
// when non-nil, the clock and ledger) and evaluates once with scenario_load.
func (s *Scheduler) LoadScenario(source calendar.Source, clk clock.Clock, ledger calendar.SynthesisLedger) error {
	if source == nil {
		return errors.NewInvalidRequest("scenario requires a calendar source")
	}
	s.stopTimer()

	s.mu.Lock()
	s.source = source
	if clk != nil {
		s.clock = clk
	}
	if ledger != nil {
		s.ledger = ledger
	}
	s.mu.Unlock()

	s.Evaluate(TriggerScenarioLoad)
	return nil
}

// Wait blocks until no evaluation is in flight or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return nil
		}
		idle := s.idle
		s.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Current returns the latest published result.
func (s *Scheduler) Current() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Result{}, false
	}
	return *s.current, true
}

// CurrentPin returns a copy of the pin, or nil.
func (s *Scheduler) CurrentPin() *Pin {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pin == nil {
		return nil
	}
	p := *s.pin
	return &p
}

// Subscribe registers fn for every published result and returns a function
// that removes it. fn runs while the publish order is held: it must not call
// ForceMode.
func (s *Scheduler) Subscribe(fn func(Result)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// loop runs evaluations until no trigger is pending.
func (s *Scheduler) loop(t Trigger, gen uint64) {
	for {
		started := time.Now()
		res := s.run(t)

		s.publishMu.Lock()
		s.mu.Lock()
		published := gen == s.gen
		if published {
			res = s.commitLocked(res)
		}
		s.mu.Unlock()
		if published {
			s.notify(s.context(), res)
			s.metrics.ObserveEvaluation(string(res.Trigger), res.Decision.Mode.String(), res.Decision.Confidence.String(), time.Since(started))
		} else {
			s.metrics.IncDiscarded()
			s.log.Debug("superseded evaluation discarded", zap.String("trigger", string(t)))
		}
		s.publishMu.Unlock()

		s.mu.Lock()
		if s.pending == nil {
			s.running = false
			close(s.idle)
			s.mu.Unlock()
			return
		}
		t, gen = *s.pending, s.gen
		s.pending = nil
		s.mu.Unlock()
	}
}

// run fetches the calendar, normalizes, decides and builds the capsule.
// It never fails: collaborator problems degrade to "no calendar view".
func (s *Scheduler) run(t Trigger) Result {
	s.mu.Lock()
	source, ledger, clk, base := s.source, s.ledger, s.clock, s.baseCtx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, s.calendarTimeout)
	defer cancel()

	events, available := s.fetch(ctx, source)
	now := clk.Now()

	opts := s.sigOpts
	opts.SynthesisOpen = false
	if available && ledger != nil {
		if last, ok := signals.LastEnded(events, now, opts.LookBack); ok {
			done, err := ledger.SynthesisCompleted(ctx, last.ID)
			if err != nil {
				s.log.Warn("synthesis ledger unavailable", zap.String("event_id", last.ID), zap.Error(err))
			} else {
				opts.SynthesisOpen = !done
			}
		}
	}

	sig, report := signals.Normalize(events, now, opts)
	for problem, n := range report.Dropped {
		s.metrics.AddDroppedEvents(string(problem), n)
	}
	if n := report.DroppedTotal(); n > 0 {
		s.log.Warn("dropped malformed calendar events", zap.Int("count", n), zap.Any("problems", report.Dropped))
	}

	// Read the pin as late as possible so the decision reflects it.
	s.mu.Lock()
	var pin *decision.Mode
	if s.pin != nil {
		m := s.pin.Mode
		pin = &m
	}
	s.mu.Unlock()

	d := s.engine.Decide(sig, pin)
	return Result{
		Trigger:           t,
		Decision:          d,
		Capsule:           capsule.Build(d),
		Signals:           sig,
		CalendarAvailable: available,
		At:                now,
	}
}

// fetch returns the event list, or nil with available=false when the
// calendar failed, timed out or is stale.
func (s *Scheduler) fetch(ctx context.Context, source calendar.Source) ([]calendar.Event, bool) {
	snap, err := source.Snapshot(ctx)
	switch {
	case err != nil:
		reason := "error"
		if ctx.Err() == context.DeadlineExceeded {
			reason = "timeout"
		}
		s.metrics.IncCalendarUnavailable(reason)
		s.log.Warn("calendar fetch failed", zap.String("reason", reason), zap.Error(err))
		return nil, false
	case snap.Stale:
		s.metrics.IncCalendarUnavailable("stale")
		s.log.Warn("calendar snapshot is stale", zap.Time("fetched_at", snap.FetchedAt))
		return nil, false
	}
	return snap.Events, true
}

// commitLocked stamps res and makes it current. Caller holds mu and publishMu.
func (s *Scheduler) commitLocked(res Result) Result {
	s.seq++
	res.Seq = s.seq
	if s.current != nil {
		res.PreviousMode = s.current.Decision.Mode
	}
	s.current = &res
	return res
}

// notify delivers res to the audit sink and subscribers. Caller holds publishMu.
func (s *Scheduler) notify(ctx context.Context, res Result) {
	ev := NewAuditEvent(res)
	s.log.Info("decision published",
		zap.String("trigger", string(ev.Trigger)),
		zap.String("previous_mode", modeName(ev.PreviousMode)),
		zap.String("new_mode", ev.NewMode.String()),
		zap.String("confidence", ev.Confidence.String()),
		zap.String("reason", ev.Reason),
	)
	if s.audit != nil {
		if err := s.audit.RecordDecision(ctx, ev); err != nil {
			s.log.Warn("could not record audit event", zap.Error(err))
		}
	}

	s.mu.Lock()
	subs := make([]func(Result), 0, len(s.subs))
	for id := 0; id < s.nextSub; id++ {
		if fn, ok := s.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(res)
	}
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

func (s *Scheduler) startTimer() {
	s.mu.Lock()
	if s.timerCancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	done := make(chan struct{})
	s.timerCancel = cancel
	s.timerDone = done
	s.mu.Unlock()

	ticker := s.newTicker(s.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				s.Evaluate(TriggerMeetingBoundaryChange)
			}
		}
	}()
}

func (s *Scheduler) stopTimer() {
	s.mu.Lock()
	cancel, done := s.timerCancel, s.timerDone
	s.timerCancel, s.timerDone = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func modeName(m decision.Mode) string {
	if !m.Valid() {
		return ""
	}
	return m.String()
}
