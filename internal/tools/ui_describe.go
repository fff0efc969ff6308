package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/appforge-labs/xcpilot/internal/respcache"
	"github.com/appforge-labs/xcpilot/internal/xcrun"
)

// DescribeTool handles the ui_describe MCP tool. It dumps the
// accessibility hierarchy of the foreground app via idb and returns
// the interactive elements plus a view fingerprint that ui_tap uses
// for coordinate caching.
type DescribeTool struct {
	runner    xcrun.Runner
	responses *respcache.Cache
}

// NewDescribeTool creates a DescribeTool with the given dependencies.
func NewDescribeTool(runner xcrun.Runner, responses *respcache.Cache) *DescribeTool {
	return &DescribeTool{runner: runner, responses: responses}
}

// Definition returns the MCP tool definition for ui_describe.
func (t *DescribeTool) Definition() mcp.Tool {
	return mcp.NewTool("ui_describe",
		mcp.WithDescription(
			"Describe the visible UI elements of the foreground app on a simulator. "+
				"Returns element labels, positions, and a view fingerprint for ui_tap.",
		),
		mcp.WithString("udid",
			mcp.Required(),
			mcp.Description("Simulator UDID from sim_list"),
		),
	)
}

// uiElement is one accessibility node from idb's describe output.
type uiElement struct {
	Label string `json:"AXLabel"`
	Type  string `json:"type"`
	Frame struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"frame"`
}

// elementID is the stable identifier ui_tap refers to: the label when
// present, otherwise type plus position.
func (e uiElement) elementID() string {
	if e.Label != "" {
		return e.Label
	}
	return fmt.Sprintf("%s@%.0f,%.0f", e.Type, e.Frame.X, e.Frame.Y)
}

// center returns the tap point for the element.
func (e uiElement) center() (x, y float64) {
	return e.Frame.X + e.Frame.Width/2, e.Frame.Y + e.Frame.Height/2
}

// Handle processes the ui_describe tool call.
func (t *DescribeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	udid := req.GetString("udid", "")
	if udid == "" {
		return mcp.NewToolResultError("udid is required"), nil
	}

	res, err := t.runner.Run(ctx, "idb", "ui", "describe-all", "--udid", udid, "--json")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to run idb: %v", err)), nil
	}
	if res.ExitCode != 0 {
		return mcp.NewToolResultError(fmt.Sprintf("idb describe failed: %s", strings.TrimSpace(res.Stderr))), nil
	}

	elements, err := parseElements(res.Stdout)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("could not parse idb output: %v", err)), nil
	}

	fingerprint := viewFingerprint(elements)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d elements (view fingerprint %s):\n\n", len(elements), fingerprint))
	for _, e := range elements {
		x, y := e.center()
		sb.WriteString(fmt.Sprintf("  %-30s %-12s at (%.0f, %.0f)\n", e.elementID(), e.Type, x, y))
	}
	sb.WriteString(fmt.Sprintf(
		"\nTap with ui_tap: {\"udid\": %q, \"element_id\": \"<id>\", \"fingerprint\": %q, \"x\": <x>, \"y\": <y>}",
		udid, fingerprint))

	body := sb.String()
	return mcp.NewToolResultText(deliverOutput(t.responses, respcache.StoreParams{
		Tool:     "ui_describe",
		Output:   body,
		ExitCode: 0,
		Command:  res.Command,
		Metadata: map[string]string{
			"udid":        udid,
			"fingerprint": fingerprint,
			"elements":    fmt.Sprintf("%d", len(elements)),
		},
	})), nil
}

// parseElements decodes idb's describe-all JSON array.
func parseElements(raw string) ([]uiElement, error) {
	var elements []uiElement
	if err := json.Unmarshal([]byte(raw), &elements); err != nil {
		return nil, err
	}
	return elements, nil
}

// viewFingerprint hashes the element structure of a screen. Two visits
// to the same screen yield the same fingerprint even when element
// order in the dump varies, so cached coordinates survive re-describes.
func viewFingerprint(elements []uiElement) string {
	ids := make([]string, 0, len(elements))
	for _, e := range elements {
		ids = append(ids, e.elementID()+"/"+e.Type)
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return hex.EncodeToString(sum[:])[:12]
}
