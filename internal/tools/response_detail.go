package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/appforge-labs/xcpilot/internal/respcache"
)

// ResponseDetailTool handles the response_detail MCP tool: the
// retrieval side of progressive disclosure. Large tool outputs are
// stored under opaque ids; this tool pages them back at the requested
// detail level.
type ResponseDetailTool struct {
	responses *respcache.Cache
}

// NewResponseDetailTool creates a ResponseDetailTool.
func NewResponseDetailTool(responses *respcache.Cache) *ResponseDetailTool {
	return &ResponseDetailTool{responses: responses}
}

// Definition returns the MCP tool definition for response_detail.
func (t *ResponseDetailTool) Definition() mcp.Tool {
	return mcp.NewTool("response_detail",
		mcp.WithDescription(
			"Retrieve the stored output of an earlier tool call at a chosen detail level.",
		),
		mcp.WithString("response_id",
			mcp.Required(),
			mcp.Description("Response id from a previous tool call's footer"),
		),
		mcp.WithString("detail",
			mcp.Description("Detail level (default full_log)"),
			mcp.Enum(respcache.DetailKindValues()...),
		),
		mcp.WithNumber("max_lines",
			mcp.Description("For full_log: maximum lines returned, from the end (default 200)"),
		),
	)
}

// Handle processes the response_detail tool call.
func (t *ResponseDetailTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("response_id", "")
	if id == "" {
		return mcp.NewToolResultError("response_id is required"), nil
	}

	kind := respcache.ParseDetailKind(req.GetString("detail", ""))
	maxLines := intArg(req, "max_lines", 200)

	body, err := t.responses.Detail(id, kind, maxLines)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(strings.TrimRight(body, "\n")), nil
}
