// Package decision maps a signal set and an optional pin to a single mode,
// a confidence grade and a plain-language account of why.
//
// Engine.Decide is total and pure: it never fails, never performs I/O, and
// returns a value-identical Decision for identical inputs.
package decision

import (
	"fmt"
	"math"

	"github.com/hpungsan/compass/internal/signals"
)

// MaxAlternatives caps Decision.Alternatives.
const MaxAlternatives = 3

// Default thresholds, in minutes.
const (
	DefaultPrepWindow      = 30
	DefaultSynthesisWindow = 30
	DefaultAmbiguityBand   = 5
)

// Thresholds tunes the window rules. All values are minutes.
type Thresholds struct {
	PrepWindow      float64 `json:"prep_window_minutes" yaml:"prep_window_minutes"`
	SynthesisWindow float64 `json:"synthesis_window_minutes" yaml:"synthesis_window_minutes"`
	AmbiguityBand   float64 `json:"ambiguity_band_minutes" yaml:"ambiguity_band_minutes"`
}

// DefaultThresholds returns 30/30/5.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PrepWindow:      DefaultPrepWindow,
		SynthesisWindow: DefaultSynthesisWindow,
		AmbiguityBand:   DefaultAmbiguityBand,
	}
}

// Alternative is a lower-priority mode whose own condition also matched.
type Alternative struct {
	Mode   Mode   `json:"mode"`
	Reason string `json:"reason"`
}

// Decision is the engine output. It has no identity and is never persisted
// as-is; the audit trail keeps only a projection of it.
type Decision struct {
	Mode          Mode          `json:"mode"`
	Confidence    Confidence    `json:"confidence"`
	Reason        string        `json:"reason"`
	SignalsUsed   []string      `json:"signalsUsed"`
	Alternatives  []Alternative `json:"alternatives"`
	WouldChangeIf []string      `json:"wouldChangeIf"`
	Pinned        bool          `json:"pinned,omitempty"`
}

// Engine applies the priority rules with a fixed set of thresholds.
type Engine struct {
	th Thresholds
}

// NewEngine creates an Engine. Non-positive or non-finite thresholds fall
// back to their defaults.
func NewEngine(th Thresholds) *Engine {
	d := DefaultThresholds()
	if !positive(th.PrepWindow) {
		th.PrepWindow = d.PrepWindow
	}
	if !positive(th.SynthesisWindow) {
		th.SynthesisWindow = d.SynthesisWindow
	}
	if th.AmbiguityBand < 0 || math.IsNaN(th.AmbiguityBand) || math.IsInf(th.AmbiguityBand, 0) {
		th.AmbiguityBand = d.AmbiguityBand
	}
	return &Engine{th: th}
}

// Thresholds returns the effective thresholds.
func (e *Engine) Thresholds() Thresholds {
	return e.th
}

// Decide returns the mode for sig, honoring pin when set. The first matching
// rule wins: pin, capture, prep, synthesis, neutral.
func (e *Engine) Decide(sig signals.Signals, pin *Mode) Decision {
	if pin != nil && pin.Valid() {
		return Decision{
			Mode:          *pin,
			Confidence:    ConfidenceHigh,
			Reason:        "manually pinned",
			SignalsUsed:   []string{},
			Alternatives:  []Alternative{},
			WouldChangeIf: []string{"explicit unpin or mode switch"},
			Pinned:        true,
		}
	}

	matched := e.matches(sig)

	var d Decision
	switch {
	case matched[ModeCapture] != "":
		d = e.capture(sig)
	case matched[ModePrep] != "":
		d = e.prep(sig)
	case matched[ModeSynthesis] != "":
		d = e.synthesis(sig)
	default:
		return e.neutral()
	}
	d.Reason = matched[d.Mode]

	// Competing lower-priority triggers: one-level downgrade, listed as alternatives.
	d.Alternatives = []Alternative{}
	for _, m := range Modes {
		if !d.Mode.Outranks(m) || matched[m] == "" {
			continue
		}
		if len(d.Alternatives) == MaxAlternatives {
			break
		}
		d.Alternatives = append(d.Alternatives, Alternative{Mode: m, Reason: matched[m]})
	}
	if len(d.Alternatives) > 0 {
		d.Confidence = d.Confidence.Downgrade()
	}
	return d
}

// matches evaluates every rule's own condition, ignoring priority, and
// returns the reason for each mode that matched. Neutral never "matches";
// it is the fallback.
func (e *Engine) matches(sig signals.Signals) map[Mode]string {
	out := make(map[Mode]string, 3)
	if sig.InEvent {
		if end := sig.MinutesToCurrentEnd; end != nil && finite(*end) {
			out[ModeCapture] = fmt.Sprintf("you are in a meeting that ends in %s", minutesText(*end))
		} else {
			out[ModeCapture] = "you are in a meeting"
		}
	}
	if m := sig.MinutesToNextStart; inWindow(m, e.th.PrepWindow) {
		out[ModePrep] = fmt.Sprintf("a meeting starts in %s", minutesText(*m))
	}
	if m := sig.MinutesSinceLastEnd; inWindow(m, e.th.SynthesisWindow) && sig.NextEventHasOpenSynthesis {
		out[ModeSynthesis] = fmt.Sprintf("a meeting ended %s ago and its synthesis is still open", minutesText(*m))
	}
	return out
}

func (e *Engine) capture(sig signals.Signals) Decision {
	used := []string{signals.NameInEvent}
	if sig.MinutesToCurrentEnd != nil {
		used = append(used, signals.NameMinutesToCurrentEnd)
	}
	return Decision{
		Mode:        ModeCapture,
		Confidence:  ConfidenceHigh,
		SignalsUsed: used,
		WouldChangeIf: []string{
			"if the current meeting ends",
			"if you pin a different view",
		},
	}
}

func (e *Engine) prep(sig signals.Signals) Decision {
	conf := ConfidenceHigh
	if *sig.MinutesToNextStart >= e.th.PrepWindow-e.th.AmbiguityBand {
		conf = ConfidenceMedium
	}
	return Decision{
		Mode:        ModePrep,
		Confidence:  conf,
		SignalsUsed: []string{signals.NameInEvent, signals.NameMinutesToNextStart},
		WouldChangeIf: []string{
			fmt.Sprintf("if the meeting start moves more than %s away", minutesText(e.th.PrepWindow)),
			"if you enter the meeting window",
		},
	}
}

func (e *Engine) synthesis(sig signals.Signals) Decision {
	conf := ConfidenceHigh
	if *sig.MinutesSinceLastEnd >= e.th.SynthesisWindow-e.th.AmbiguityBand {
		conf = ConfidenceMedium
	}
	return Decision{
		Mode:       ModeSynthesis,
		Confidence: conf,
		SignalsUsed: []string{
			signals.NameInEvent,
			signals.NameMinutesToNextStart,
			signals.NameMinutesSinceLastEnd,
			signals.NameNextEventHasOpenSynthesis,
		},
		WouldChangeIf: []string{
			"if the synthesis for the last meeting is completed",
			fmt.Sprintf("if more than %s pass since the last meeting ended", minutesText(e.th.SynthesisWindow)),
			fmt.Sprintf("if a meeting comes within %s", minutesText(e.th.PrepWindow)),
		},
	}
}

func (e *Engine) neutral() Decision {
	return Decision{
		Mode:       ModeNeutral,
		Confidence: ConfidenceLow,
		Reason:     "no meeting is in progress, upcoming or awaiting synthesis",
		SignalsUsed: []string{
			signals.NameInEvent,
			signals.NameMinutesToNextStart,
			signals.NameMinutesSinceLastEnd,
			signals.NameNextEventHasOpenSynthesis,
		},
		Alternatives: []Alternative{},
		WouldChangeIf: []string{
			"if a meeting begins",
			fmt.Sprintf("if a meeting comes within %s", minutesText(e.th.PrepWindow)),
			fmt.Sprintf("if a meeting ended within the last %s with its synthesis still open", minutesText(e.th.SynthesisWindow)),
		},
	}
}

// inWindow reports 0 <= *m <= window. NaN and nil never match.
func inWindow(m *float64, window float64) bool {
	return m != nil && *m >= 0 && *m <= window
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func finite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}

// minutesText renders whole minutes ("1 minute", "12 minutes"), rounding up
// partial minutes so "ends in 0 minutes" never appears for a running meeting.
func minutesText(m float64) string {
	n := int64(math.Ceil(m))
	if n == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", n)
}
