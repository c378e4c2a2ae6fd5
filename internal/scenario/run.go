package scenario

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/compass/internal/calendar"
	"github.com/hpungsan/compass/internal/clock"
	"github.com/hpungsan/compass/internal/decision"
	"github.com/hpungsan/compass/internal/errors"
	"github.com/hpungsan/compass/internal/metrics"
	"github.com/hpungsan/compass/internal/scheduler"
)

// Options configures Run.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// StepResult is the published result after one step. Step 0 is the load.
type StepResult struct {
	Step         int      `json:"step"`
	Action       string   `json:"action"`
	At           string   `json:"at"`
	Trigger      string   `json:"trigger"`
	Mode         string   `json:"mode"`
	Confidence   string   `json:"confidence"`
	Reason       string   `json:"reason"`
	Alternatives []string `json:"alternatives"`
	Pinned       bool     `json:"pinned"`
	Mismatches   []string `json:"mismatches,omitempty"`
}

// Report is the outcome of a scenario run.
type Report struct {
	Name   string       `json:"name"`
	Steps  []StepResult `json:"steps"`
	Passed bool         `json:"passed"`
}

// ledger is a StaticLedger that steps may extend.
type ledger struct {
	mu   sync.Mutex
	done map[string]bool
}

func (l *ledger) SynthesisCompleted(_ context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done[eventID], nil
}

func (l *ledger) complete(eventID string) {
	l.mu.Lock()
	l.done[eventID] = true
	l.mu.Unlock()
}

// Run replays sc through a fresh scheduler. The returned error covers only
// failures to run; expectation mismatches are reported in the Report.
func Run(ctx context.Context, sc *Scenario, opts Options) (*Report, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	th := decision.DefaultThresholds()
	if sc.Thresholds != nil {
		th = *sc.Thresholds
	}
	clk := clock.NewManual(sc.Now)
	led := &ledger{done: make(map[string]bool)}
	for _, id := range sc.SynthesesCompleted {
		led.done[id] = true
	}

	s, err := scheduler.New(scheduler.Options{
		Source:  calendar.NewStaticSource(nil),
		Engine:  decision.NewEngine(th),
		Clock:   clk,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return nil, err
	}

	if sc.Pin != "" {
		mode, _ := decision.ParseMode(sc.Pin)
		if _, err := s.ForceMode(ctx, mode); err != nil {
			return nil, err
		}
	}

	report := &Report{Name: sc.Name, Passed: true}
	record := func(step int, action string, res scheduler.Result, exp *Expectation) {
		sr := newStepResult(step, action, res)
		sr.Mismatches = exp.check(res)
		if len(sr.Mismatches) > 0 {
			report.Passed = false
		}
		report.Steps = append(report.Steps, sr)
	}

	if err := s.LoadScenario(calendar.NewStaticSource(sc.Events), clk, led); err != nil {
		return nil, err
	}
	res, err := settle(ctx, s)
	if err != nil {
		return nil, err
	}
	record(0, "load", res, sc.Expect)

	for i, st := range sc.Steps {
		if st.Advance > 0 {
			clk.Advance(st.Advance)
		}
		switch st.Action {
		case ActionPeriodic:
			s.Evaluate(scheduler.TriggerMeetingBoundaryChange)
			res, err = settle(ctx, s)
		case ActionForce:
			mode, _ := decision.ParseMode(st.Mode)
			res, err = s.ForceMode(ctx, mode)
		case ActionUnpin:
			s.Unpin(ctx)
			res, err = settle(ctx, s)
		case ActionCompleteSynthesis:
			led.complete(strings.TrimSpace(st.EventID))
			s.Evaluate(scheduler.TriggerMeetingBoundaryChange)
			res, err = settle(ctx, s)
		}
		if err != nil {
			return nil, err
		}
		record(i+1, string(st.Action), res, st.Expect)
	}
	return report, nil
}

// settle waits for the in-flight evaluation and returns the current result.
func settle(ctx context.Context, s *scheduler.Scheduler) (scheduler.Result, error) {
	if err := s.Wait(ctx); err != nil {
		return scheduler.Result{}, errors.NewCancelled("scenario")
	}
	res, ok := s.Current()
	if !ok {
		return scheduler.Result{}, errors.NewInternal(fmt.Errorf("no decision was published"))
	}
	return res, nil
}

func newStepResult(step int, action string, res scheduler.Result) StepResult {
	alts := make([]string, 0, len(res.Capsule.Alternatives))
	for _, a := range res.Capsule.Alternatives {
		alts = append(alts, a.Mode.String())
	}
	return StepResult{
		Step:         step,
		Action:       action,
		At:           res.At.UTC().Format(time.RFC3339),
		Trigger:      string(res.Trigger),
		Mode:         res.Decision.Mode.String(),
		Confidence:   res.Decision.Confidence.String(),
		Reason:       res.Decision.Reason,
		Alternatives: alts,
		Pinned:       res.Decision.Pinned,
	}
}

// check returns one message per unmet field. A nil expectation always passes.
func (e *Expectation) check(res scheduler.Result) []string {
	if e == nil {
		return nil
	}
	var out []string
	d := res.Decision
	if e.Mode != "" {
		if want, _ := decision.ParseMode(e.Mode); want != d.Mode {
			out = append(out, fmt.Sprintf("mode = %s, want %s", d.Mode, want))
		}
	}
	if e.Confidence != "" {
		if want, _ := decision.ParseConfidence(e.Confidence); want != d.Confidence {
			out = append(out, fmt.Sprintf("confidence = %s, want %s", d.Confidence, want))
		}
	}
	if e.Alternatives != nil {
		got := make([]string, 0, len(res.Capsule.Alternatives))
		for _, a := range res.Capsule.Alternatives {
			got = append(got, a.Mode.String())
		}
		want := make([]string, 0, len(e.Alternatives))
		for _, a := range e.Alternatives {
			m, _ := decision.ParseMode(a)
			want = append(want, m.String())
		}
		if strings.Join(got, ",") != strings.Join(want, ",") {
			out = append(out, fmt.Sprintf("alternatives = [%s], want [%s]", strings.Join(got, " "), strings.Join(want, " ")))
		}
	}
	if e.Pinned != nil && *e.Pinned != d.Pinned {
		out = append(out, fmt.Sprintf("pinned = %v, want %v", d.Pinned, *e.Pinned))
	}
	return out
}
