package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/compass/internal/config"
	"github.com/hpungsan/compass/internal/db"
	"github.com/hpungsan/compass/internal/ops"
	"github.com/hpungsan/compass/internal/scenario"
)

// setupTestEnv creates a temporary database and an env with unsafe paths allowed.
func setupTestEnv(t *testing.T) *appEnv {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true
	return newAppEnv(database, cfg, nil)
}

// run executes args against a fresh app and returns stdout.
func run(t *testing.T, e *appEnv, args ...string) (string, error) {
	t.Helper()
	app := newCLIApp(e)
	var buf bytes.Buffer
	app.Writer = &buf
	app.ErrWriter = &bytes.Buffer{}
	err := app.Run(append([]string{"compass"}, args...))
	return buf.String(), err
}

// mustRun is run that fails the test on error and decodes JSON into out.
func mustRun(t *testing.T, e *appEnv, out any, args ...string) {
	t.Helper()
	stdout, err := run(t, e, args...)
	if err != nil {
		t.Fatalf("%v failed: %v", args, err)
	}
	if out == nil {
		return
	}
	if err := json.Unmarshal([]byte(stdout), out); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, stdout)
	}
}

// importUpcoming imports one meeting starting ten minutes from now.
func importUpcoming(t *testing.T, e *appEnv) {
	t.Helper()
	now := time.Now().UTC()
	line := fmt.Sprintf(`{"id":"standup","title":"Standup","start":%q,"end":%q}`,
		now.Add(10*time.Minute).Format(time.RFC3339), now.Add(25*time.Minute).Format(time.RFC3339))
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(path, []byte(line+"\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	var out ops.ImportEventsOutput
	mustRun(t, e, &out, "events", "import", "--path", path)
	if out.Imported != 1 {
		t.Fatalf("imported = %d, want 1", out.Imported)
	}
}

type resultJSON struct {
	Trigger  string `json:"trigger"`
	Decision struct {
		Mode         string `json:"mode"`
		Confidence   string `json:"confidence"`
		Pinned       bool   `json:"pinned"`
		Alternatives []any  `json:"alternatives"`
	} `json:"decision"`
	CalendarAvailable bool `json:"calendar_available"`
}

// TestParseDuration tests the parseDuration helper function.
func TestParseDuration(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    int
		expectError bool
	}{
		{name: "valid days", input: "7d", expected: 7},
		{name: "zero days", input: "0d", expected: 0},
		{name: "missing suffix", input: "7", expectError: true},
		{name: "wrong suffix", input: "7h", expectError: true},
		{name: "negative", input: "-1d", expectError: true},
		{name: "not a number", input: "xd", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDuration(tt.input)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("parseDuration(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]string{"": "json", "JSON": "json", "md": "md", "markdown": "md"} {
		got, err := parseFormat(in)
		if err != nil || got != want {
			t.Errorf("parseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := parseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestCLIDecide(t *testing.T) {
	e := setupTestEnv(t)

	t.Run("no calendar is neutral", func(t *testing.T) {
		var res resultJSON
		mustRun(t, e, &res, "decide")
		if res.Decision.Mode != "neutral" || res.Decision.Confidence != "LOW" {
			t.Errorf("decision = %+v, want neutral LOW", res.Decision)
		}
		if res.CalendarAvailable {
			t.Error("never-synced calendar should be unavailable")
		}
	})

	t.Run("strict fails without calendar", func(t *testing.T) {
		_, err := run(t, e, "decide", "--strict")
		if err == nil || !strings.Contains(err.Error(), "CALENDAR_UNAVAILABLE") {
			t.Errorf("err = %v, want CALENDAR_UNAVAILABLE", err)
		}
	})

	importUpcoming(t, e)

	t.Run("upcoming meeting is prep", func(t *testing.T) {
		var res resultJSON
		mustRun(t, e, &res, "decide")
		if res.Decision.Mode != "prep" || res.Trigger != "app_open" {
			t.Errorf("res = %+v, want prep via app_open", res)
		}
	})

	t.Run("at is a what-if", func(t *testing.T) {
		var res resultJSON
		at := time.Now().UTC().Add(15 * time.Minute).Format(time.RFC3339)
		mustRun(t, e, &res, "decide", "--at", at)
		if res.Decision.Mode != "capture" {
			t.Errorf("mode = %s, want capture", res.Decision.Mode)
		}
	})

	t.Run("invalid at", func(t *testing.T) {
		_, err := run(t, e, "decide", "--at", "tomorrow")
		if err == nil || !strings.Contains(err.Error(), "INVALID_REQUEST") {
			t.Errorf("err = %v, want INVALID_REQUEST", err)
		}
	})

	t.Run("markdown", func(t *testing.T) {
		out, err := run(t, e, "decide", "--format", "md")
		if err != nil {
			t.Fatalf("decide failed: %v", err)
		}
		if !strings.HasPrefix(out, "# ") || !strings.Contains(out, "## Why this view") {
			t.Errorf("unexpected markdown:\n%s", out)
		}
	})

	// What-if runs are not recorded.
	var status ops.StatusOutput
	mustRun(t, e, &status, "status")
	if status.Decisions != 4 {
		t.Errorf("decisions = %d, want 4", status.Decisions)
	}
}

func TestCLIForceUnpin(t *testing.T) {
	e := setupTestEnv(t)
	importUpcoming(t, e)

	var forced resultJSON
	mustRun(t, e, &forced, "force", "synthesis")
	if forced.Decision.Mode != "synthesis" || !forced.Decision.Pinned || forced.Trigger != "force" {
		t.Errorf("forced = %+v", forced)
	}

	var status ops.StatusOutput
	mustRun(t, e, &status, "status")
	if status.Pin == nil || status.Pin.Mode.String() != "synthesis" {
		t.Fatalf("pin = %+v, want synthesis", status.Pin)
	}

	// A later run honours the persisted pin.
	var decided resultJSON
	mustRun(t, e, &decided, "decide")
	if decided.Decision.Mode != "synthesis" || !decided.Decision.Pinned {
		t.Errorf("decided = %+v, want pinned synthesis", decided)
	}

	var unpinned resultJSON
	mustRun(t, e, &unpinned, "unpin")
	if unpinned.Trigger != "unpin" || unpinned.Decision.Mode != "prep" || unpinned.Decision.Pinned {
		t.Errorf("unpinned = %+v, want prep via unpin", unpinned)
	}

	status = ops.StatusOutput{}
	mustRun(t, e, &status, "status")
	if status.Pin != nil {
		t.Errorf("pin = %+v, want none", status.Pin)
	}

	t.Run("invalid mode", func(t *testing.T) {
		_, err := run(t, e, "force", "focus")
		if err == nil || !strings.Contains(err.Error(), "INVALID_MODE") {
			t.Errorf("err = %v, want INVALID_MODE", err)
		}
	})

	t.Run("missing mode", func(t *testing.T) {
		_, err := run(t, e, "force")
		if err == nil || !strings.Contains(err.Error(), "INVALID_REQUEST") {
			t.Errorf("err = %v, want INVALID_REQUEST", err)
		}
	})
}

func TestCLISynthesisComplete(t *testing.T) {
	e := setupTestEnv(t)
	importUpcoming(t, e)

	var out ops.CompleteSynthesisOutput
	mustRun(t, e, &out, "synthesis", "complete", "standup")
	if out.EventID != "standup" || !strings.Contains(out.Message, "Standup") {
		t.Errorf("out = %+v", out)
	}

	_, err := run(t, e, "synthesis", "complete", "nope")
	if err == nil || !strings.Contains(err.Error(), "NOT_FOUND") {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}

	_, err = run(t, e, "synthesis", "complete")
	if err == nil || !strings.Contains(err.Error(), "INVALID_REQUEST") {
		t.Errorf("err = %v, want INVALID_REQUEST", err)
	}
}

func TestCLIDecisions(t *testing.T) {
	e := setupTestEnv(t)
	mustRun(t, e, nil, "decide")
	mustRun(t, e, nil, "force", "prep")

	var list ops.ListDecisionsOutput
	mustRun(t, e, &list, "decisions", "list", "--limit", "1")
	if len(list.Items) != 1 || list.Pagination.Total != 2 || !list.Pagination.HasMore {
		t.Errorf("list = %+v", list)
	}

	path := filepath.Join(t.TempDir(), "audit.jsonl")
	var exp ops.ExportDecisionsOutput
	mustRun(t, e, &exp, "decisions", "export", "--path", path)
	if exp.Count != 2 {
		t.Errorf("exported = %d, want 2", exp.Count)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 3 {
		t.Errorf("export lines = %d, want header + 2", lines)
	}

	_, err = run(t, e, "decisions", "purge", "--older-than", "soon")
	if err == nil || !strings.Contains(err.Error(), "INVALID_REQUEST") {
		t.Errorf("err = %v, want INVALID_REQUEST", err)
	}

	var kept ops.PurgeDecisionsOutput
	mustRun(t, e, &kept, "decisions", "purge", "--older-than", "1d")
	if kept.Purged != 0 {
		t.Errorf("purged = %d, want 0", kept.Purged)
	}
	if kept.Message != "No decisions to purge (older than 1 day)" {
		t.Errorf("message = %q", kept.Message)
	}
}

func TestCLIScenario(t *testing.T) {
	e := setupTestEnv(t)

	var listed struct {
		Builtin []string `json:"builtin"`
	}
	mustRun(t, e, &listed, "scenario", "list")
	if len(listed.Builtin) != len(scenario.ListBuiltin()) || len(listed.Builtin) == 0 {
		t.Errorf("builtin = %v", listed.Builtin)
	}

	var report scenario.Report
	mustRun(t, e, &report, "scenario", "run", "--builtin", listed.Builtin[0])
	if !report.Passed {
		t.Errorf("report = %+v, want passed", report)
	}

	failing := filepath.Join(t.TempDir(), "failing.yaml")
	if err := os.WriteFile(failing, []byte("name: failing\nnow: 2026-03-02T09:00:00Z\nexpect:\n  mode: capture\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	out, err := run(t, e, "scenario", "run", failing)
	if err == nil || !strings.Contains(err.Error(), "did not match") {
		t.Errorf("err = %v, want mismatch failure", err)
	}
	if !strings.Contains(out, `"passed": false`) {
		t.Errorf("expected report on stdout, got %s", out)
	}
}

func TestLoadScenario(t *testing.T) {
	tests := []struct {
		name, path, builtin string
		wantErr             bool
	}{
		{name: "neither", wantErr: true},
		{name: "both", path: "a.yaml", builtin: "b", wantErr: true},
		{name: "missing file", path: filepath.Join(t.TempDir(), "nope.yaml"), wantErr: true},
		{name: "unknown builtin", builtin: "nope", wantErr: true},
		{name: "builtin", builtin: scenario.ListBuiltin()[0]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := loadScenario(tt.path, tt.builtin)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil || sc == nil {
				t.Fatalf("loadScenario: %v", err)
			}
		})
	}
}

func TestCLIErrorHandling(t *testing.T) {
	e := setupTestEnv(t)

	_, err := run(t, e, "events", "import", "--path", "/nonexistent/events.jsonl")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.HasPrefix(err.Error(), "[FILE_NOT_FOUND]") {
		t.Errorf("err = %v, want [FILE_NOT_FOUND] prefix", err)
	}

	if _, err := run(t, e, "decide", "--format", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		args     []string
		expected bool
	}{
		{[]string{"compass"}, false},
		{[]string{"compass", "decide"}, true},
		{[]string{"compass", "scenario"}, true},
		{[]string{"compass", "serve"}, true},
		{[]string{"compass", "--help"}, true},
		{[]string{"compass", "-v"}, true},
		{[]string{"compass", "unknown"}, false},
	}
	for _, tt := range tests {
		if got := isCLIMode(tt.args); got != tt.expected {
			t.Errorf("isCLIMode(%v) = %v, want %v", tt.args, got, tt.expected)
		}
	}
}

func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		args     []string
		expected bool
	}{
		{[]string{"compass"}, false},
		{[]string{"compass", "help"}, true},
		{[]string{"compass", "-h"}, true},
		{[]string{"compass", "--version"}, true},
		{[]string{"compass", "decide"}, false},
	}
	for _, tt := range tests {
		if got := isHelpOrVersion(tt.args); got != tt.expected {
			t.Errorf("isHelpOrVersion(%v) = %v, want %v", tt.args, got, tt.expected)
		}
	}
}
