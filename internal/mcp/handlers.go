package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/hpungsan/compass/internal/config"
	"github.com/hpungsan/compass/internal/decision"
	"github.com/hpungsan/compass/internal/errors"
	"github.com/hpungsan/compass/internal/logging"
	"github.com/hpungsan/compass/internal/ops"
	"github.com/hpungsan/compass/internal/scheduler"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db    *sql.DB
	cfg   *config.Config
	sched *scheduler.Scheduler
	log   *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config, sched *scheduler.Scheduler, log *zap.Logger) *Handlers {
	return &Handlers{db: db, cfg: cfg, sched: sched, log: logging.OrNop(log)}
}

// EvaluateRequest represents the arguments for mode_evaluate.
type EvaluateRequest struct {
	Trigger string `json:"trigger,omitempty"`
}

// ForceRequest represents the arguments for mode_force.
type ForceRequest struct {
	Mode string `json:"mode"`
}

// SynthesisRequest represents the arguments for synthesis_complete.
type SynthesisRequest struct {
	EventID string `json:"event_id"`
}

// ImportRequest represents the arguments for events_import.
type ImportRequest struct {
	Path string `json:"path"`
}

// ListRequest represents the arguments for decisions_list.
type ListRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// HandleCurrent handles the mode_current tool call.
func (h *Handlers) HandleCurrent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.current(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(res)
}

// HandleEvaluate handles the mode_evaluate tool call.
func (h *Handlers) HandleEvaluate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[EvaluateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	t := scheduler.TriggerMeetingBoundaryChange
	if input.Trigger != "" {
		t, err = scheduler.ParseTrigger(input.Trigger)
		if err != nil {
			return errorResult(err), nil
		}
		if t != scheduler.TriggerAppOpen && t != scheduler.TriggerMeetingBoundaryChange {
			return errorResult(errors.NewInvalidTrigger(input.Trigger)), nil
		}
	}

	res, err := h.evaluate(ctx, t)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(res)
}

// HandleForce handles the mode_force tool call.
func (h *Handlers) HandleForce(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ForceRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	mode, err := decision.ParseMode(input.Mode)
	if err != nil {
		return errorResult(errors.NewInvalidMode(input.Mode)), nil
	}

	res, err := h.sched.ForceMode(ctx, mode)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(res)
}

// HandleUnpin handles the mode_unpin tool call.
func (h *Handlers) HandleUnpin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.sched.Unpin(ctx)
	res, err := h.settle(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(res)
}

// HandleExplain handles the mode_explain tool call.
func (h *Handlers) HandleExplain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.current(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(res.Capsule.Markdown()), nil
}

// HandleSynthesisComplete handles the synthesis_complete tool call.
func (h *Handlers) HandleSynthesisComplete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SynthesisRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	out, err := ops.CompleteSynthesis(ctx, h.db, ops.CompleteSynthesisInput{EventID: input.EventID})
	if err != nil {
		return errorResult(err), nil
	}
	h.log.Info("synthesis recorded", zap.String("event_id", out.EventID))
	h.sched.Evaluate(scheduler.TriggerMeetingBoundaryChange)
	return successResult(out)
}

// HandleImport handles the events_import tool call.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	out, err := ops.ImportEvents(ctx, h.db, h.cfg, ops.ImportEventsInput{Path: input.Path})
	if err != nil {
		return errorResult(err), nil
	}
	h.log.Info("events imported", zap.Int("imported", out.Imported), zap.Int("skipped", out.Skipped))
	h.sched.Evaluate(scheduler.TriggerMeetingBoundaryChange)
	return successResult(out)
}

// HandleList handles the decisions_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	out, err := ops.ListDecisions(ctx, h.db, ops.ListDecisionsInput{
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// current returns the published result, evaluating first if nothing was
// published yet.
func (h *Handlers) current(ctx context.Context) (scheduler.Result, error) {
	if err := h.sched.Wait(ctx); err != nil {
		return scheduler.Result{}, errors.NewCancelled("mode_current")
	}
	if res, ok := h.sched.Current(); ok {
		return res, nil
	}
	return h.evaluate(ctx, scheduler.TriggerAppOpen)
}

func (h *Handlers) evaluate(ctx context.Context, t scheduler.Trigger) (scheduler.Result, error) {
	h.sched.Evaluate(t)
	return h.settle(ctx)
}

// settle waits for in-flight evaluations and returns the current result.
func (h *Handlers) settle(ctx context.Context) (scheduler.Result, error) {
	if err := h.sched.Wait(ctx); err != nil {
		return scheduler.Result{}, errors.NewCancelled("evaluation")
	}
	res, ok := h.sched.Current()
	if !ok {
		return scheduler.Result{}, errors.NewInternal(fmt.Errorf("no decision was published"))
	}
	return res, nil
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var cErr *errors.CompassError
	if stderrors.As(err, &cErr) {
		// Keep wrapper context ("step 2: ...") in the message.
		msg := strings.TrimSuffix(err.Error(), cErr.Error()) + cErr.Message
		errorObj := map[string]any{
			"code":    cErr.Code,
			"message": msg,
			"status":  cErr.Status,
		}
		if cErr.Code != errors.ErrInternal && cErr.Details != nil {
			errorObj["details"] = cErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
