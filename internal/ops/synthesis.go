package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/compass/internal/db"
	"github.com/hpungsan/compass/internal/errors"
)

// CompleteSynthesisInput contains parameters for the CompleteSynthesis operation.
type CompleteSynthesisInput struct {
	EventID string    // required; must be an imported event
	Now     time.Time // optional; defaults to time.Now()
}

// CompleteSynthesisOutput contains the result of the CompleteSynthesis operation.
type CompleteSynthesisOutput struct {
	EventID     string `json:"event_id"`
	Title       string `json:"title,omitempty"`
	CompletedAt int64  `json:"completed_at"`
	Message     string `json:"message"`
}

// CompleteSynthesis records that the synthesis for an ended meeting is done,
// which stops that meeting from driving the synthesis view.
func CompleteSynthesis(ctx context.Context, database *sql.DB, input CompleteSynthesisInput) (*CompleteSynthesisOutput, error) {
	id := strings.TrimSpace(input.EventID)
	if id == "" {
		return nil, errors.NewInvalidRequest("event_id is required")
	}
	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}

	event, err := db.GetEvent(ctx, database, id)
	if err != nil {
		return nil, err
	}
	if err := db.MarkSynthesis(ctx, database, id, now.Unix()); err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("Synthesis recorded for %s", id)
	if event.Title != "" {
		msg = fmt.Sprintf("Synthesis recorded for %q", event.Title)
	}
	return &CompleteSynthesisOutput{
		EventID:     id,
		Title:       event.Title,
		CompletedAt: now.Unix(),
		Message:     msg,
	}, nil
}
