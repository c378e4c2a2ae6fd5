package decision

import (
	"fmt"
	"strings"
)

// Mode is one of the four top-level views. The numeric order is the priority
// order: a lower value always wins. The zero value is not a valid mode.
type Mode uint8

const (
	ModeCapture Mode = iota + 1
	ModePrep
	ModeSynthesis
	ModeNeutral
)

// Modes lists every mode in priority order.
var Modes = []Mode{ModeCapture, ModePrep, ModeSynthesis, ModeNeutral}

// String returns the wire name of m.
func (m Mode) String() string {
	switch m {
	case ModeCapture:
		return "capture"
	case ModePrep:
		return "prep"
	case ModeSynthesis:
		return "synthesis"
	case ModeNeutral:
		return "neutral"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// Valid reports whether m is one of the four modes.
func (m Mode) Valid() bool {
	return m >= ModeCapture && m <= ModeNeutral
}

// Outranks reports whether m has strictly higher priority than other.
func (m Mode) Outranks(other Mode) bool {
	return m < other
}

// Label is the static view label shown for m.
func (m Mode) Label() string {
	switch m {
	case ModeCapture:
		return "Capture notes"
	case ModePrep:
		return "Prepare for meeting"
	case ModeSynthesis:
		return "Synthesize outcomes"
	case ModeNeutral:
		return "Plan your day"
	}
	panic(fmt.Sprintf("decision: unhandled mode %d", uint8(m)))
}

// ParseMode parses a mode name (case and surrounding space insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "capture":
		return ModeCapture, nil
	case "prep":
		return ModePrep, nil
	case "synthesis":
		return ModeSynthesis, nil
	case "neutral":
		return ModeNeutral, nil
	}
	return 0, fmt.Errorf("unknown mode %q (want capture, prep, synthesis or neutral)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid mode %d", uint8(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Confidence grades a decision.
type Confidence uint8

const (
	ConfidenceLow Confidence = iota + 1
	ConfidenceMedium
	ConfidenceHigh
)

// String returns the wire name of c.
func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "HIGH"
	case ConfidenceMedium:
		return "MEDIUM"
	case ConfidenceLow:
		return "LOW"
	}
	return fmt.Sprintf("confidence(%d)", uint8(c))
}

// Downgrade returns the next lower grade. LOW stays LOW.
func (c Confidence) Downgrade() Confidence {
	if c > ConfidenceLow {
		return c - 1
	}
	return ConfidenceLow
}

// ParseConfidence parses HIGH, MEDIUM or LOW (case insensitive).
func ParseConfidence(s string) (Confidence, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return ConfidenceHigh, nil
	case "MEDIUM":
		return ConfidenceMedium, nil
	case "LOW":
		return ConfidenceLow, nil
	}
	return 0, fmt.Errorf("unknown confidence %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Confidence) MarshalText() ([]byte, error) {
	if c < ConfidenceLow || c > ConfidenceHigh {
		return nil, fmt.Errorf("invalid confidence %d", uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Confidence) UnmarshalText(b []byte) error {
	parsed, err := ParseConfidence(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
