package ops

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/hpungsan/compass/internal/calendar"
	"github.com/hpungsan/compass/internal/config"
	"github.com/hpungsan/compass/internal/db"
	"github.com/hpungsan/compass/internal/errors"
)

// maxImportLine bounds a single JSONL line.
const maxImportLine = 1 << 20

// ImportEventsInput contains parameters for the ImportEvents operation.
type ImportEventsInput struct {
	Path string    // required; .jsonl, .yaml or .yml
	Now  time.Time // optional; defaults to time.Now()
}

// ImportEventsOutput contains the result of the ImportEvents operation.
type ImportEventsOutput struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
	SyncedAt int64         `json:"synced_at"`
}

// ImportError describes one event that was not imported.
type ImportError struct {
	Line    int    `json:"line,omitempty"`
	Index   int    `json:"index,omitempty"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// eventFile is the YAML layout: a top-level events list.
type eventFile struct {
	Events []calendar.Event `yaml:"events"`
}

// ImportEvents reads calendar events from a JSONL or YAML file, upserts the
// valid ones and records the import as the calendar's freshness mark.
// Events without an ID get a ULID. Malformed events are skipped and reported.
func ImportEvents(ctx context.Context, database *sql.DB, cfg *config.Config, input ImportEventsInput) (*ImportEventsOutput, error) {
	if err := ValidatePath(input.Path, PathCheckRead, cfg); err != nil {
		return nil, err
	}
	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}

	file, err := openFileNoFollowRead(input.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var (
		events    []calendar.Event
		positions []ImportError // line/index for each parsed event
		problems  []ImportError
	)
	switch strings.ToLower(filepath.Ext(input.Path)) {
	case ".yaml", ".yml":
		events, err = parseEventsYAML(file)
		if err != nil {
			return nil, err
		}
		for i := range events {
			positions = append(positions, ImportError{Index: i + 1})
		}
	default:
		var lines []int
		events, lines, problems = parseEventsJSONL(file)
		for _, l := range lines {
			positions = append(positions, ImportError{Line: l})
		}
	}

	out := &ImportEventsOutput{Errors: []ImportError{}}
	out.Errors = append(out.Errors, problems...)
	out.Skipped += len(problems)

	valid := make([]calendar.Event, 0, len(events))
	for i, e := range events {
		if e.ID == "" {
			e.ID = ulid.Make().String()
		}
		if p := e.Validate(); p != "" {
			ie := positions[i]
			ie.ID = e.ID
			ie.Code = "INVALID_EVENT"
			ie.Message = string(p)
			out.Errors = append(out.Errors, ie)
			out.Skipped++
			continue
		}
		valid = append(valid, e)
	}

	select {
	case <-ctx.Done():
		return nil, errors.NewCancelled("import")
	default:
	}

	if err := db.UpsertEvents(ctx, database, valid, now.Unix()); err != nil {
		return nil, err
	}
	if err := db.TouchSync(ctx, database, now.Unix(), filepath.Base(input.Path)); err != nil {
		return nil, err
	}

	out.Imported = len(valid)
	out.SyncedAt = now.Unix()
	return out, nil
}

// parseEventsJSONL parses one event per line. Blank lines are ignored.
// It returns the events, their line numbers and per-line parse problems.
func parseEventsJSONL(r io.Reader) ([]calendar.Event, []int, []ImportError) {
	var (
		events   []calendar.Event
		lines    []int
		problems []ImportError
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var e calendar.Event
		if err := json.Unmarshal(line, &e); err != nil {
			problems = append(problems, ImportError{
				Line:    lineNum,
				Code:    "PARSE_ERROR",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			})
			continue
		}
		events = append(events, e)
		lines = append(lines, lineNum)
	}

	if err := scanner.Err(); err != nil {
		problems = append(problems, ImportError{
			Line:    lineNum,
			Code:    "READ_ERROR",
			Message: fmt.Sprintf("failed to read file: %v", err),
		})
	}

	return events, lines, problems
}

// parseEventsYAML parses an `events:` document. A document that is not valid
// YAML is an INVALID_REQUEST; individual events are validated by the caller.
func parseEventsYAML(r io.Reader) ([]calendar.Event, error) {
	var doc eventFile
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid YAML: %v", err))
	}
	return doc.Events, nil
}
