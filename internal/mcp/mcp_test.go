package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/compass/internal/calendar"
	"github.com/hpungsan/compass/internal/clock"
	"github.com/hpungsan/compass/internal/config"
	"github.com/hpungsan/compass/internal/db"
	"github.com/hpungsan/compass/internal/errors"
	"github.com/hpungsan/compass/internal/ops"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// testSetup creates a temporary database, config and handlers whose
// scheduler runs at base without a periodic timer.
func testSetup(t *testing.T) (*sql.DB, *config.Config, *Handlers) {
	t.Helper()

	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true // Allow temp dirs in tests

	sched, err := ops.NewScheduler(database, cfg, ops.SessionOptions{Clock: clock.Fixed{T: base}})
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	t.Cleanup(sched.Stop)

	return database, cfg, NewHandlers(database, cfg, sched, nil)
}

// seedStandup stores a meeting starting 10 minutes after base.
func seedStandup(t *testing.T, database *sql.DB) {
	t.Helper()
	ctx := context.Background()
	e := calendar.Event{ID: "standup", Title: "Standup", Start: base.Add(10 * time.Minute), End: base.Add(25 * time.Minute)}
	if err := db.UpsertEvent(ctx, database, e, base.Unix()); err != nil {
		t.Fatalf("UpsertEvent failed: %v", err)
	}
	if err := db.TouchSync(ctx, database, base.Unix(), "test"); err != nil {
		t.Fatalf("TouchSync failed: %v", err)
	}
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func TestHandleCurrent_EvaluatesOnFirstCall(t *testing.T) {
	database, _, h := testSetup(t)
	seedStandup(t, database)

	result, err := h.HandleCurrent(context.Background(), makeRequest(nil))
	if err != nil {
		t.Fatalf("HandleCurrent returned error: %v", err)
	}
	out := parseOutput(t, result)

	if out["trigger"] != "app_open" {
		t.Errorf("trigger = %v, want app_open", out["trigger"])
	}
	d := out["decision"].(map[string]any)
	if d["mode"] != "prep" || d["confidence"] != "HIGH" {
		t.Errorf("decision = %v", d)
	}
	c := out["capsule"].(map[string]any)
	if c["viewLabel"] == "" {
		t.Error("capsule viewLabel is empty")
	}

	// Second call returns the same published result
	result, _ = h.HandleCurrent(context.Background(), makeRequest(nil))
	if got := parseOutput(t, result); got["seq"] != out["seq"] {
		t.Errorf("seq = %v, want %v", got["seq"], out["seq"])
	}
}

func TestHandleEvaluate(t *testing.T) {
	database, _, h := testSetup(t)
	seedStandup(t, database)

	result, err := h.HandleEvaluate(context.Background(), makeRequest(nil))
	if err != nil {
		t.Fatalf("HandleEvaluate returned error: %v", err)
	}
	out := parseOutput(t, result)
	if out["trigger"] != "meeting_boundary_change" {
		t.Errorf("trigger = %v", out["trigger"])
	}

	result, _ = h.HandleEvaluate(context.Background(), makeRequest(map[string]any{"trigger": "app_open"}))
	if out := parseOutput(t, result); out["trigger"] != "app_open" {
		t.Errorf("trigger = %v, want app_open", out["trigger"])
	}

	for _, trig := range []string{"force", "tick"} {
		result, _ = h.HandleEvaluate(context.Background(), makeRequest(map[string]any{"trigger": trig}))
		if !result.IsError {
			t.Errorf("trigger %q accepted", trig)
		}
		assertErrorCode(t, result, string(errors.ErrInvalidTrigger))
	}
}

func TestHandleForceAndUnpin(t *testing.T) {
	ctx := context.Background()
	database, _, h := testSetup(t)
	seedStandup(t, database)

	result, err := h.HandleForce(ctx, makeRequest(map[string]any{"mode": "capture"}))
	if err != nil {
		t.Fatalf("HandleForce returned error: %v", err)
	}
	out := parseOutput(t, result)
	d := out["decision"].(map[string]any)
	if d["mode"] != "capture" || d["pinned"] != true {
		t.Errorf("forced decision = %v", d)
	}

	pin, err := db.GetPin(ctx, database)
	if err != nil || pin == nil || pin.Mode != "capture" {
		t.Fatalf("GetPin = %+v, %v", pin, err)
	}

	// Periodic evaluations keep the pin
	result, _ = h.HandleEvaluate(ctx, makeRequest(nil))
	if d := parseOutput(t, result)["decision"].(map[string]any); d["mode"] != "capture" {
		t.Errorf("pinned evaluate mode = %v", d["mode"])
	}

	result, err = h.HandleUnpin(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("HandleUnpin returned error: %v", err)
	}
	out = parseOutput(t, result)
	if out["trigger"] != "unpin" {
		t.Errorf("trigger = %v, want unpin", out["trigger"])
	}
	if d := out["decision"].(map[string]any); d["mode"] != "prep" {
		t.Errorf("after unpin mode = %v, want prep", d["mode"])
	}

	pin, err = db.GetPin(ctx, database)
	if err != nil || pin != nil {
		t.Errorf("pin after unpin = %+v, %v", pin, err)
	}
}

func TestHandleForce_InvalidMode(t *testing.T) {
	_, _, h := testSetup(t)

	for _, args := range []map[string]any{{"mode": "focus"}, {}} {
		result, err := h.HandleForce(context.Background(), makeRequest(args))
		if err != nil {
			t.Fatalf("HandleForce returned error: %v", err)
		}
		if !result.IsError {
			t.Fatalf("args %v accepted", args)
		}
		assertErrorCode(t, result, string(errors.ErrInvalidMode))
	}
}

func TestHandleExplain(t *testing.T) {
	database, _, h := testSetup(t)
	seedStandup(t, database)

	result, err := h.HandleExplain(context.Background(), makeRequest(nil))
	if err != nil {
		t.Fatalf("HandleExplain returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", extractErrorMessage(result))
	}
	text := result.Content[0].(mcp.TextContent).Text
	if !strings.Contains(text, "meeting starts in 10 minutes") {
		t.Errorf("markdown missing reason:\n%s", text)
	}
}

func TestHandleSynthesisComplete(t *testing.T) {
	ctx := context.Background()
	database, _, h := testSetup(t)

	retro := calendar.Event{ID: "retro", Title: "Retro", Start: base.Add(-time.Hour), End: base.Add(-5 * time.Minute)}
	if err := db.UpsertEvent(ctx, database, retro, base.Unix()); err != nil {
		t.Fatalf("UpsertEvent failed: %v", err)
	}
	if err := db.TouchSync(ctx, database, base.Unix(), "test"); err != nil {
		t.Fatalf("TouchSync failed: %v", err)
	}

	result, _ := h.HandleCurrent(ctx, makeRequest(nil))
	if d := parseOutput(t, result)["decision"].(map[string]any); d["mode"] != "synthesis" {
		t.Fatalf("mode = %v, want synthesis", d["mode"])
	}

	result, err := h.HandleSynthesisComplete(ctx, makeRequest(map[string]any{"event_id": "retro"}))
	if err != nil {
		t.Fatalf("HandleSynthesisComplete returned error: %v", err)
	}
	if out := parseOutput(t, result); out["event_id"] != "retro" {
		t.Errorf("event_id = %v", out["event_id"])
	}

	result, _ = h.HandleCurrent(ctx, makeRequest(nil))
	if d := parseOutput(t, result)["decision"].(map[string]any); d["mode"] != "neutral" {
		t.Errorf("mode after synthesis = %v, want neutral", d["mode"])
	}

	result, _ = h.HandleSynthesisComplete(ctx, makeRequest(map[string]any{"event_id": "missing"}))
	assertErrorCode(t, result, string(errors.ErrNotFound))
}

func TestHandleImport(t *testing.T) {
	ctx := context.Background()
	_, _, h := testSetup(t)

	path := filepath.Join(t.TempDir(), "events.jsonl")
	line := `{"id":"standup","start":"2026-03-02T09:10:00Z","end":"2026-03-02T09:25:00Z"}`
	if err := os.WriteFile(path, []byte(line+"\nnot json\n"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	result, err := h.HandleImport(ctx, makeRequest(map[string]any{"path": path}))
	if err != nil {
		t.Fatalf("HandleImport returned error: %v", err)
	}
	out := parseOutput(t, result)
	if out["imported"] != float64(1) || out["skipped"] != float64(1) {
		t.Errorf("out = %v", out)
	}

	result, _ = h.HandleCurrent(ctx, makeRequest(nil))
	if d := parseOutput(t, result)["decision"].(map[string]any); d["mode"] != "prep" {
		t.Errorf("mode after import = %v, want prep", d["mode"])
	}

	result, _ = h.HandleImport(ctx, makeRequest(map[string]any{"path": filepath.Join(t.TempDir(), "none.jsonl")}))
	assertErrorCode(t, result, string(errors.ErrFileNotFound))
}

func TestHandleList(t *testing.T) {
	ctx := context.Background()
	database, _, h := testSetup(t)
	seedStandup(t, database)

	for i := 0; i < 3; i++ {
		if _, err := h.HandleEvaluate(ctx, makeRequest(nil)); err != nil {
			t.Fatalf("HandleEvaluate returned error: %v", err)
		}
	}

	result, err := h.HandleList(ctx, makeRequest(map[string]any{"limit": 2}))
	if err != nil {
		t.Fatalf("HandleList returned error: %v", err)
	}
	out := parseOutput(t, result)
	items := out["items"].([]any)
	if len(items) != 2 {
		t.Errorf("len(items) = %d, want 2", len(items))
	}
	p := out["pagination"].(map[string]any)
	if p["total"] != float64(3) || p["has_more"] != true {
		t.Errorf("pagination = %v", p)
	}

	result, _ = h.HandleList(ctx, makeRequest(map[string]any{"limit": "many"}))
	assertErrorCode(t, result, string(errors.ErrInvalidRequest))
}

func TestServerRegistration(t *testing.T) {
	database, cfg, h := testSetup(t)

	s := NewServer(database, cfg, h.sched, "test", nil)
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"mode_current",
		"mode_evaluate",
		"mode_force",
		"mode_unpin",
		"mode_explain",
		"synthesis_complete",
		"events_import",
		"decisions_list",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}
	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	database, cfg, h := testSetup(t)

	cfg.DisabledTools = []string{"mode_force", "events_import", "events_import"}
	s := NewServer(database, cfg, h.sched, "test", nil)
	tools := s.ListTools()

	if len(tools) != 6 {
		t.Errorf("registered tool count = %d, want 6", len(tools))
	}
	for _, name := range []string{"mode_force", "events_import"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	database, cfg, h := testSetup(t)

	cfg.DisabledTools = AllToolNames()
	s := NewServer(database, cfg, h.sched, "test", nil)
	if tools := s.ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{"all valid", []string{"mode_force", "decisions_list"}, 0},
		{"one unknown", []string{"mode_force", "capsule_store"}, 1},
		{"all unknown", []string{"foo", "bar", "baz"}, 3},
		{"empty list", []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unknown := ValidateDisabledTools(tt.input)
			if len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	if len(names) != 8 {
		t.Errorf("AllToolNames() returned %d names, want 8", len(names))
	}
	if names[0] != "decisions_list" {
		t.Errorf("names not sorted: %v", names)
	}
	if unknown := ValidateDisabledTools(names); len(unknown) != 0 {
		t.Errorf("AllToolNames() returned invalid names: %v", unknown)
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj := payload["error"].(map[string]any)

	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrappedErr := fmt.Errorf("step 2: %w", errors.NewInvalidMode("focus"))

	r := errorResult(wrappedErr)
	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj := payload["error"].(map[string]any)

	if errObj["code"] != string(errors.ErrInvalidMode) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrInvalidMode)
	}
	msg := errObj["message"].(string)
	if !strings.HasPrefix(msg, "step 2: ") || !strings.Contains(msg, `"focus"`) {
		t.Errorf("message = %q", msg)
	}
}

func TestErrorResult_NonCompassError(t *testing.T) {
	r := errorResult(fmt.Errorf("boom"))
	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj := payload["error"].(map[string]any)
	if errObj["code"] != "INTERNAL" || errObj["message"] != "an internal error occurred" {
		t.Errorf("error = %v", errObj)
	}
}

// Helper functions

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if len(result.Content) == 0 {
		t.Errorf("no content in error result")
		return
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Errorf("content is not TextContent")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Errorf("failed to unmarshal error payload: %v", err)
		return
	}

	errorObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Errorf("no error object in payload")
		return
	}

	code, ok := errorObj["code"].(string)
	if !ok {
		t.Errorf("no code in error object")
		return
	}

	if code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}

	return text.Text
}
