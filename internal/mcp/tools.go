package mcp

import "github.com/mark3labs/mcp-go/mcp"

func sessionParam() mcp.ToolOption {
	return mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("Session id returned by review_load"),
	)
}

func includeHTMLParam() mcp.ToolOption {
	return mcp.WithBoolean("include_html",
		mcp.Description("Also return the highlighted body HTML"),
	)
}

var loadToolDef = mcp.NewTool("review_load",
	mcp.WithDescription("Open a review session for one email analysis document (JSON or YAML). "+
		"Returns the session id, prediction cards and any repairs applied to malformed input."),
	mcp.WithString("document",
		mcp.Required(),
		mcp.Description("The analysis document: email header/body plus intent_parser_result.predictions"),
	),
	mcp.WithString("format",
		mcp.Description("json or yaml; sniffed from the content when omitted"),
		mcp.Enum("json", "yaml"),
	),
	includeHTMLParam(),
)

var selectToolDef = mcp.NewTool("review_select",
	mcp.WithDescription("Select a prediction and highlight its evidence. An empty prediction_id deselects."),
	sessionParam(),
	mcp.WithString("prediction_id", mcp.Description("Prediction to select")),
	includeHTMLParam(),
)

var editToolDef = mcp.NewTool("review_edit",
	mcp.WithDescription("Drive edit mode for the selected prediction: enter or exit edit mode, "+
		"click a highlighted span to make it active, or arm free selection."),
	sessionParam(),
	mcp.WithString("action",
		mcp.Required(),
		mcp.Enum(editEnter, editExit, editClick, editSelect),
		mcp.Description("enter | exit | click | select"),
	),
	mcp.WithString("span_id", mcp.Description("Span to activate (click only)")),
	includeHTMLParam(),
)

var selectionToolDef = mcp.NewTool("review_selection",
	mcp.WithDescription("Report a completed text selection while selecting. node is the element ordinal "+
		"(data-evlens-node, -1 for the body root); start/end are offsets into its text."),
	sessionParam(),
	mcp.WithNumber("node", mcp.Required(), mcp.Description("Element ordinal containing the selection")),
	mcp.WithNumber("start", mcp.Required(), mcp.Description("Start character offset")),
	mcp.WithNumber("end", mcp.Required(), mcp.Description("End character offset (exclusive)")),
	mcp.WithString("text", mcp.Required(), mcp.Description("The selected text")),
)

var dragToolDef = mcp.NewTool("review_drag",
	mcp.WithDescription("Drag a boundary handle of the active span by dx_pixels and release. "+
		"A moved boundary becomes the pending replacement."),
	sessionParam(),
	mcp.WithString("handle", mcp.Required(), mcp.Enum("start", "end")),
	mcp.WithNumber("dx_pixels", mcp.Required(), mcp.Description("Horizontal displacement; negative moves left")),
)

var applyToolDef = mcp.NewTool("review_apply",
	mcp.WithDescription("Apply the pending replacement to the correction ledger, optionally relabeling it first."),
	sessionParam(),
	mcp.WithString("type",
		mcp.Description("New evidence type"),
		mcp.Enum("intent", "action", "artefact_type", "artefact_detail"),
	),
	mcp.WithString("field", mcp.Description("Artefact field name (artefact_detail only)")),
)

var cancelToolDef = mcp.NewTool("review_cancel",
	mcp.WithDescription("Discard the pending replacement and leave edit mode."),
	sessionParam(),
)

var feedbackToolDef = mcp.NewTool("review_feedback",
	mcp.WithDescription("Show the corrections recorded so far as records and a Markdown summary. "+
		"With field and value, first relabel intent, action or artefact_type of the selected prediction."),
	sessionParam(),
	mcp.WithString("field", mcp.Enum("intent", "action", "artefact_type")),
	mcp.WithString("value"),
)

var submitToolDef = mcp.NewTool("review_submit",
	mcp.WithDescription("Submit all corrections to the configured feedback sink. The ledger is cleared only on success."),
	sessionParam(),
	mcp.WithBoolean("close", mcp.Description("End the session after a successful submit")),
)

var locateToolDef = mcp.NewTool("evidence_locate",
	mcp.WithDescription("Report where evidence lands in a session's body: resolution variant, "+
		"locate strategy and character range. Pass a span, or a prediction_id to report all of its spans."),
	sessionParam(),
	mcp.WithString("prediction_id", mcp.Description("Report every evidence span of this prediction")),
	mcp.WithObject("span", mcp.Description("A single evidence span: xpath/relativeStart/relativeEnd or start/end, text, type")),
)
