package scheduler

import (
	"strings"

	"github.com/hpungsan/compass/internal/errors"
)

// Trigger names the event that caused an evaluation.
type Trigger string

const (
	TriggerAppOpen               Trigger = "app_open"                // once, on start
	TriggerMeetingBoundaryChange Trigger = "meeting_boundary_change" // periodic timer
	TriggerForce                 Trigger = "force"                   // explicit pin
	TriggerUnpin                 Trigger = "unpin"                   // explicit unpin
	TriggerScenarioLoad          Trigger = "scenario_load"           // fixture replaces live source
)

// Triggers lists every known trigger.
var Triggers = []Trigger{
	TriggerAppOpen,
	TriggerMeetingBoundaryChange,
	TriggerForce,
	TriggerUnpin,
	TriggerScenarioLoad,
}

// Valid reports whether t is a known trigger.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerAppOpen, TriggerMeetingBoundaryChange, TriggerForce, TriggerUnpin, TriggerScenarioLoad:
		return true
	}
	return false
}

// ParseTrigger parses a trigger name. Unknown names are wiring bugs and
// come back as INVALID_TRIGGER.
func ParseTrigger(s string) (Trigger, error) {
	t := Trigger(strings.TrimSpace(s))
	if !t.Valid() {
		return "", errors.NewInvalidTrigger(s)
	}
	return t, nil
}
