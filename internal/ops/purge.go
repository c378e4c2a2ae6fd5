package ops

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hpungsan/compass/internal/db"
	"github.com/hpungsan/compass/internal/errors"
)

// PurgeDecisionsInput contains parameters for the PurgeDecisions operation.
type PurgeDecisionsInput struct {
	OlderThanDays int       // required, >= 0; 0 purges everything before now
	Now           time.Time // optional; defaults to time.Now()
}

// PurgeDecisionsOutput contains the result of the PurgeDecisions operation.
type PurgeDecisionsOutput struct {
	Purged  int64  `json:"purged"`
	Before  int64  `json:"before"`
	Message string `json:"message"`
}

// PurgeDecisions permanently deletes audit records older than the cutoff.
func PurgeDecisions(ctx context.Context, database *sql.DB, input PurgeDecisionsInput) (*PurgeDecisionsOutput, error) {
	if input.OlderThanDays < 0 {
		return nil, errors.NewInvalidRequest("older_than_days must not be negative")
	}
	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}
	before := now.AddDate(0, 0, -input.OlderThanDays).Unix()

	count, err := db.PurgeDecisions(ctx, database, before)
	if err != nil {
		return nil, err
	}

	return &PurgeDecisionsOutput{
		Purged:  count,
		Before:  before,
		Message: formatPurgeMessage(count, input.OlderThanDays),
	}, nil
}

// formatPurgeMessage creates a human-readable message for the purge result.
func formatPurgeMessage(count int64, olderThanDays int) string {
	var suffix string
	if olderThanDays > 0 {
		unit := "days"
		if olderThanDays == 1 {
			unit = "day"
		}
		suffix = fmt.Sprintf(" (older than %d %s)", olderThanDays, unit)
	}

	if count == 0 {
		return "No decisions to purge" + suffix
	}

	word := "decision"
	if count > 1 {
		word = "decisions"
	}
	return fmt.Sprintf("Permanently deleted %d %s", count, word) + suffix
}
