// Package scenario replays fixed calendar fixtures through the scheduler.
//
// A scenario pins the clock, loads its events with the scenario_load trigger
// and then applies steps (periodic ticks, force, unpin, clock advances,
// synthesis completions), checking each published result against an
// optional expectation.
package scenario

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hpungsan/compass/internal/calendar"
	"github.com/hpungsan/compass/internal/decision"
	"github.com/hpungsan/compass/internal/errors"
)

// Action names a scenario step.
type Action string

const (
	ActionPeriodic          Action = "periodic"
	ActionForce             Action = "force"
	ActionUnpin             Action = "unpin"
	ActionCompleteSynthesis Action = "complete_synthesis"
)

// Scenario is one fixture.
type Scenario struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	Now         time.Time        `yaml:"now"`
	Events      []calendar.Event `yaml:"events"`

	// SynthesesCompleted lists event IDs whose synthesis is already done.
	SynthesesCompleted []string `yaml:"syntheses_completed,omitempty"`

	// Pin forces a mode before the scenario loads.
	Pin string `yaml:"pin,omitempty"`

	// Thresholds overrides the engine defaults.
	Thresholds *decision.Thresholds `yaml:"thresholds,omitempty"`

	// Expect checks the scenario_load result.
	Expect *Expectation `yaml:"expect,omitempty"`

	Steps []Step `yaml:"steps,omitempty"`
}

// Step is applied after the load evaluation, in order.
type Step struct {
	Action Action `yaml:"action"`

	// Mode is the forced mode for ActionForce.
	Mode string `yaml:"mode,omitempty"`

	// EventID is the meeting for ActionCompleteSynthesis.
	EventID string `yaml:"event_id,omitempty"`

	// Advance moves the clock forward before the action runs.
	Advance time.Duration `yaml:"advance,omitempty"`

	Expect *Expectation `yaml:"expect,omitempty"`
}

// Expectation describes a published result. Empty fields are not checked.
type Expectation struct {
	Mode         string   `yaml:"mode,omitempty"`
	Confidence   string   `yaml:"confidence,omitempty"`
	Alternatives []string `yaml:"alternatives,omitempty"`
	Pinned       *bool    `yaml:"pinned,omitempty"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFound(path)
		}
		return nil, errors.NewInternal(err)
	}
	return Parse(data)
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid scenario: %v", err))
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the parts of a scenario that would otherwise fail mid-run.
// Malformed events are allowed: the normalizer drops them like live data.
func (sc *Scenario) Validate() error {
	if sc.Now.IsZero() {
		return errors.NewInvalidRequest("scenario requires now")
	}
	if sc.Pin != "" {
		if _, err := decision.ParseMode(sc.Pin); err != nil {
			return errors.NewInvalidMode(sc.Pin)
		}
	}
	if err := sc.Expect.validate(); err != nil {
		return err
	}
	for i, st := range sc.Steps {
		switch st.Action {
		case ActionPeriodic, ActionUnpin:
		case ActionForce:
			if _, err := decision.ParseMode(st.Mode); err != nil {
				return errors.NewInvalidMode(st.Mode)
			}
		case ActionCompleteSynthesis:
			if strings.TrimSpace(st.EventID) == "" {
				return errors.NewInvalidRequest(fmt.Sprintf("step %d: complete_synthesis requires event_id", i+1))
			}
		default:
			return errors.NewInvalidRequest(fmt.Sprintf("step %d: unknown action %q", i+1, st.Action))
		}
		if st.Advance < 0 {
			return errors.NewInvalidRequest(fmt.Sprintf("step %d: advance must not be negative", i+1))
		}
		if err := st.Expect.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Expectation) validate() error {
	if e == nil {
		return nil
	}
	if e.Mode != "" {
		if _, err := decision.ParseMode(e.Mode); err != nil {
			return errors.NewInvalidMode(e.Mode)
		}
	}
	if e.Confidence != "" {
		if _, err := decision.ParseConfidence(e.Confidence); err != nil {
			return errors.NewInvalidRequest(err.Error())
		}
	}
	for _, a := range e.Alternatives {
		if _, err := decision.ParseMode(a); err != nil {
			return errors.NewInvalidMode(a)
		}
	}
	return nil
}
