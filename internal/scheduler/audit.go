package scheduler

import (
	"context"
	"time"

	"github.com/hpungsan/compass/internal/decision"
)

// AuditEvent is the record emitted for every published decision.
// PreviousMode is zero for the first decision of a session.
type AuditEvent struct {
	Seq          uint64              `json:"seq"`
	Trigger      Trigger             `json:"trigger"`
	PreviousMode decision.Mode       `json:"previous_mode,omitempty"`
	NewMode      decision.Mode       `json:"new_mode"`
	Confidence   decision.Confidence `json:"confidence"`
	Reason       string              `json:"reason"`
	Pinned       bool                `json:"pinned,omitempty"`
	At           time.Time           `json:"at"`
}

// AuditSink receives audit events in publish order. Errors are logged and
// never block the decision.
type AuditSink interface {
	RecordDecision(ctx context.Context, ev AuditEvent) error
}

// AuditFunc adapts a function to AuditSink.
type AuditFunc func(ctx context.Context, ev AuditEvent) error

// RecordDecision calls f.
func (f AuditFunc) RecordDecision(ctx context.Context, ev AuditEvent) error {
	return f(ctx, ev)
}

// NewAuditEvent projects a published result into its audit record.
func NewAuditEvent(res Result) AuditEvent {
	return AuditEvent{
		Seq:          res.Seq,
		Trigger:      res.Trigger,
		PreviousMode: res.PreviousMode,
		NewMode:      res.Decision.Mode,
		Confidence:   res.Decision.Confidence,
		Reason:       res.Decision.Reason,
		Pinned:       res.Decision.Pinned,
		At:           res.At,
	}
}
