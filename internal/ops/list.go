package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/compass/internal/db"
)

// ListDecisionsInput contains parameters for the ListDecisions operation.
type ListDecisionsInput struct {
	Limit  int // default: 20, max: 100
	Offset int // default: 0
}

// ListDecisionsOutput contains the result of the ListDecisions operation.
type ListDecisionsOutput struct {
	Items      []db.DecisionRecord `json:"items"`
	Pagination Pagination          `json:"pagination"`
	Sort       string              `json:"sort"`
}

// ListDecisions returns the decision audit trail, newest first.
func ListDecisions(ctx context.Context, database *sql.DB, input ListDecisionsInput) (*ListDecisionsOutput, error) {
	limit, offset := clampPage(input.Limit, input.Offset)

	items, err := db.ListDecisions(ctx, database, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := db.CountDecisions(ctx, database)
	if err != nil {
		return nil, err
	}

	return &ListDecisionsOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "decided_at_desc",
	}, nil
}
