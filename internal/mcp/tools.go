package mcp

import "github.com/mark3labs/mcp-go/mcp"

var currentToolDef = mcp.NewTool("mode_current",
	mcp.WithDescription("Return the latest published mode decision and its capsule."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var evaluateToolDef = mcp.NewTool("mode_evaluate",
	mcp.WithDescription("Re-evaluate the mode from the calendar now and return the result."),
	mcp.WithString("trigger",
		mcp.Description("Evaluation trigger to record (default meeting_boundary_change)"),
		mcp.Enum("app_open", "meeting_boundary_change"),
	),
)

var forceToolDef = mcp.NewTool("mode_force",
	mcp.WithDescription("Pin a mode. Periodic evaluations keep returning it until mode_unpin."),
	mcp.WithString("mode",
		mcp.Required(),
		mcp.Description("Mode to pin"),
		mcp.Enum("capture", "prep", "synthesis", "neutral"),
	),
)

var unpinToolDef = mcp.NewTool("mode_unpin",
	mcp.WithDescription("Clear the pinned mode and re-evaluate from the calendar."),
)

var explainToolDef = mcp.NewTool("mode_explain",
	mcp.WithDescription("Explain the current mode as markdown: why, alternatives, what would change it and available actions."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var synthesisToolDef = mcp.NewTool("synthesis_complete",
	mcp.WithDescription("Record that the synthesis for an ended meeting is done, then re-evaluate."),
	mcp.WithString("event_id",
		mcp.Required(),
		mcp.Description("ID of the imported calendar event"),
	),
)

var importToolDef = mcp.NewTool("events_import",
	mcp.WithDescription("Import calendar events from a JSONL or YAML file, then re-evaluate."),
	mcp.WithString("path",
		mcp.Required(),
		mcp.Description("File in ~/.compass/exports or an allowed path (.jsonl, .yaml, .yml)"),
	),
)

var listToolDef = mcp.NewTool("decisions_list",
	mcp.WithDescription("List the decision audit trail, newest first."),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Page offset")),
	mcp.WithReadOnlyHintAnnotation(true),
)
