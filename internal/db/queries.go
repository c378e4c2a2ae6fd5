package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/compass/internal/calendar"
	"github.com/hpungsan/compass/internal/errors"
)

// DecisionRecord is one row of the decision audit trail.
type DecisionRecord struct {
	ID string `json:"id"`

	// Trigger is the evaluation trigger name
	Trigger string `json:"trigger"`

	// PreviousMode is empty for the first decision of a session
	PreviousMode string `json:"previous_mode,omitempty"`

	NewMode    string `json:"new_mode"`
	Confidence string `json:"confidence"`
	Reason     string `json:"reason"`
	Pinned     bool   `json:"pinned"`

	// DecidedAt is the Unix timestamp of the evaluation instant
	DecidedAt int64 `json:"decided_at"`
}

// PinRecord is the persisted manual override.
type PinRecord struct {
	Mode  string
	SetAt int64
}

const upsertEventQuery = `
	INSERT INTO events (id, title, location, start_at, end_at, all_day, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		location = excluded.location,
		start_at = excluded.start_at,
		end_at = excluded.end_at,
		all_day = excluded.all_day,
		updated_at = excluded.updated_at
`

// UpsertEvent inserts or replaces a calendar event by ID.
func UpsertEvent(ctx context.Context, db *sql.DB, e calendar.Event, updatedAt int64) error {
	_, err := db.ExecContext(ctx, upsertEventQuery,
		e.ID, nullIfEmpty(e.Title), nullIfEmpty(e.Location),
		e.Start.Unix(), e.End.Unix(), boolToInt(e.AllDay), updatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// UpsertEvents upserts events in a single transaction.
func UpsertEvents(ctx context.Context, db *sql.DB, events []calendar.Event, updatedAt int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, e := range events {
		_, err := tx.ExecContext(ctx, upsertEventQuery,
			e.ID, nullIfEmpty(e.Title), nullIfEmpty(e.Location),
			e.Start.Unix(), e.End.Unix(), boolToInt(e.AllDay), updatedAt,
		)
		if err != nil {
			return errors.NewInternal(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetEvent retrieves a calendar event by ID.
func GetEvent(ctx context.Context, db *sql.DB, id string) (*calendar.Event, error) {
	query := `
		SELECT id, title, location, start_at, end_at, all_day
		FROM events
		WHERE id = ?
	`
	e, err := scanEvent(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("event", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return e, nil
}

// EventsBetween returns events overlapping [from, to], ordered by start then ID.
func EventsBetween(ctx context.Context, db *sql.DB, from, to time.Time) ([]calendar.Event, error) {
	query := `
		SELECT id, title, location, start_at, end_at, all_day
		FROM events
		WHERE end_at >= ? AND start_at <= ?
		ORDER BY start_at ASC, id ASC
	`
	rows, err := db.QueryContext(ctx, query, from.Unix(), to.Unix())
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	events := []calendar.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return events, nil
}

// CountEvents returns the number of stored events.
func CountEvents(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// MarkSynthesis records that the synthesis for eventID is complete.
// Marking twice keeps the latest completion time.
func MarkSynthesis(ctx context.Context, db *sql.DB, eventID string, completedAt int64) error {
	query := `
		INSERT INTO syntheses (event_id, completed_at) VALUES (?, ?)
		ON CONFLICT(event_id) DO UPDATE SET completed_at = excluded.completed_at
	`
	if _, err := db.ExecContext(ctx, query, eventID, completedAt); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// HasSynthesis reports whether a synthesis was recorded for eventID.
func HasSynthesis(ctx context.Context, db *sql.DB, eventID string) (bool, error) {
	var exists int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM syntheses WHERE event_id = ? LIMIT 1", eventID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// InsertDecision appends one audit record.
func InsertDecision(ctx context.Context, db *sql.DB, r *DecisionRecord) error {
	query := `
		INSERT INTO decisions (
			id, trigger_name, previous_mode, new_mode, confidence, reason, pinned, decided_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		r.ID, r.Trigger, nullIfEmpty(r.PreviousMode), r.NewMode,
		r.Confidence, r.Reason, boolToInt(r.Pinned), r.DecidedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListDecisions returns audit records, newest first.
func ListDecisions(ctx context.Context, db *sql.DB, limit, offset int) ([]DecisionRecord, error) {
	query := `
		SELECT id, trigger_name, previous_mode, new_mode, confidence, reason, pinned, decided_at
		FROM decisions
		ORDER BY decided_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	records := []DecisionRecord{}
	for rows.Next() {
		r, err := ScanDecision(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return records, nil
}

// CountDecisions returns the number of audit records.
func CountDecisions(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM decisions").Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// StreamDecisions returns rows for export, oldest first. Caller closes rows.
func StreamDecisions(ctx context.Context, db *sql.DB, since int64) (*sql.Rows, error) {
	query := `
		SELECT id, trigger_name, previous_mode, new_mode, confidence, reason, pinned, decided_at
		FROM decisions
		WHERE decided_at >= ?
		ORDER BY decided_at ASC, id ASC
	`
	rows, err := db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return rows, nil
}

// PurgeDecisions deletes audit records decided before the given Unix time.
func PurgeDecisions(ctx context.Context, db *sql.DB, before int64) (int64, error) {
	result, err := db.ExecContext(ctx, "DELETE FROM decisions WHERE decided_at < ?", before)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// GetPin returns the persisted pin, or nil if none is set.
func GetPin(ctx context.Context, db *sql.DB) (*PinRecord, error) {
	var p PinRecord
	err := db.QueryRowContext(ctx, "SELECT mode, set_at FROM pin WHERE id = 1").Scan(&p.Mode, &p.SetAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &p, nil
}

// SetPin replaces the persisted pin.
func SetPin(ctx context.Context, db *sql.DB, mode string, setAt int64) error {
	query := `
		INSERT INTO pin (id, mode, set_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET mode = excluded.mode, set_at = excluded.set_at
	`
	if _, err := db.ExecContext(ctx, query, mode, setAt); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ClearPin removes the persisted pin. Clearing an absent pin is not an error.
func ClearPin(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM pin WHERE id = 1"); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// TouchSync records a successful calendar import.
func TouchSync(ctx context.Context, db *sql.DB, syncedAt int64, source string) error {
	query := `
		INSERT INTO calendar_sync (id, synced_at, source) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET synced_at = excluded.synced_at, source = excluded.source
	`
	if _, err := db.ExecContext(ctx, query, syncedAt, nullIfEmpty(source)); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// LastSync returns the time of the last calendar import. ok is false if the
// calendar was never imported.
func LastSync(ctx context.Context, db *sql.DB) (syncedAt int64, ok bool, err error) {
	err = db.QueryRowContext(ctx, "SELECT synced_at FROM calendar_sync WHERE id = 1").Scan(&syncedAt)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.NewInternal(err)
	}
	return syncedAt, true, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*calendar.Event, error) {
	var (
		e        calendar.Event
		title    sql.NullString
		location sql.NullString
		start    int64
		end      int64
		allDay   int
	)
	if err := row.Scan(&e.ID, &title, &location, &start, &end, &allDay); err != nil {
		return nil, err
	}
	e.Title = title.String
	e.Location = location.String
	e.Start = time.Unix(start, 0).UTC()
	e.End = time.Unix(end, 0).UTC()
	e.AllDay = allDay != 0
	return &e, nil
}

// ScanDecision scans one decisions row.
func ScanDecision(row scanner) (*DecisionRecord, error) {
	var (
		r        DecisionRecord
		previous sql.NullString
		pinned   int
	)
	err := row.Scan(
		&r.ID, &r.Trigger, &previous, &r.NewMode,
		&r.Confidence, &r.Reason, &pinned, &r.DecidedAt,
	)
	if err != nil {
		return nil, err
	}
	r.PreviousMode = previous.String
	r.Pinned = pinned != 0
	return &r, nil
}

// nullIfEmpty stores empty strings as NULL.
func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
