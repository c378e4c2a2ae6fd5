// Package capsule projects a decision into the explainability capsule shown
// to the user: the chosen view, why it was chosen, what else was considered,
// what would flip it, and what the user can do about it.
package capsule

import (
	"slices"

	"github.com/hpungsan/compass/internal/decision"
)

// ActionKind names a user action offered by a capsule.
type ActionKind string

const (
	ActionSwitchView ActionKind = "switch_view" // jump to an alternative view
	ActionSetIntent  ActionKind = "set_intent"  // neutral only: tell us what you are doing
)

// Action is a user action applicable to the capsule's mode.
type Action struct {
	Kind  ActionKind    `json:"kind"`
	Mode  decision.Mode `json:"mode,omitempty"`
	Label string        `json:"label"`
}

// Capsule is an immutable, display-oriented snapshot of one decision.
type Capsule struct {
	// Mode is the chosen view
	Mode decision.Mode `json:"mode"`

	// ViewLabel is the static label for Mode
	ViewLabel string `json:"viewLabel"`

	// Confidence is the decision's grade
	Confidence decision.Confidence `json:"confidence"`

	// Reason is the plain-language justification
	Reason string `json:"reason"`

	// SignalsUsed names the signals the fired rule looked at
	SignalsUsed []string `json:"signalsUsed"`

	// Alternatives holds at most MaxAlternatives competing modes, priority order
	Alternatives []decision.Alternative `json:"alternatives"`

	// WouldChangeIf lists conditions that would flip the decision
	WouldChangeIf []string `json:"wouldChangeIf"`

	// Actions available for Mode
	Actions []Action `json:"actions"`

	// Pinned is true when the mode was forced by the user
	Pinned bool `json:"pinned,omitempty"`
}

// Build projects d into a Capsule. Pure; slices are copied so later changes
// to d never leak into the capsule.
func Build(d decision.Decision) Capsule {
	alts := slices.Clone(d.Alternatives)
	slices.SortStableFunc(alts, func(a, b decision.Alternative) int {
		return int(a.Mode) - int(b.Mode)
	})
	if len(alts) > decision.MaxAlternatives {
		alts = alts[:decision.MaxAlternatives]
	}
	if alts == nil {
		alts = []decision.Alternative{}
	}

	return Capsule{
		Mode:          d.Mode,
		ViewLabel:     d.Mode.Label(),
		Confidence:    d.Confidence,
		Reason:        d.Reason,
		SignalsUsed:   cloneStrings(d.SignalsUsed),
		Alternatives:  alts,
		WouldChangeIf: cloneStrings(d.WouldChangeIf),
		Actions:       actionsFor(d.Mode, alts),
		Pinned:        d.Pinned,
	}
}

// actionsFor returns one switch_view per alternative, plus set_intent in neutral.
func actionsFor(mode decision.Mode, alts []decision.Alternative) []Action {
	actions := make([]Action, 0, len(alts)+1)
	for _, alt := range alts {
		actions = append(actions, Action{
			Kind:  ActionSwitchView,
			Mode:  alt.Mode,
			Label: "Switch to " + alt.Mode.Label(),
		})
	}
	if mode == decision.ModeNeutral {
		actions = append(actions, Action{
			Kind:  ActionSetIntent,
			Label: "Tell us what you are working on",
		})
	}
	return actions
}

func cloneStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}
