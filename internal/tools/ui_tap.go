package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/appforge-labs/xcpilot/internal/coordcache"
	"github.com/appforge-labs/xcpilot/internal/xcrun"
)

// TapTool handles the ui_tap MCP tool.
//
// With the coordinate cache enabled, a repeat tap on a known element
// of a known view skips the describe round-trip entirely: the cached
// position is used, and its confidence is updated from the outcome.
// A failed cached tap invalidates the entry, so stale coordinates
// self-heal instead of looping.
type TapTool struct {
	runner xcrun.Runner
	coords *coordcache.Cache
}

// NewTapTool creates a TapTool with the given dependencies.
func NewTapTool(runner xcrun.Runner, coords *coordcache.Cache) *TapTool {
	return &TapTool{runner: runner, coords: coords}
}

// Definition returns the MCP tool definition for ui_tap.
func (t *TapTool) Definition() mcp.Tool {
	return mcp.NewTool("ui_tap",
		mcp.WithDescription(
			"Tap a UI element on a simulator. Pass the element_id and fingerprint from "+
				"ui_describe plus coordinates; repeat taps on the same view may use cached coordinates.",
		),
		mcp.WithString("udid",
			mcp.Required(),
			mcp.Description("Simulator UDID from sim_list"),
		),
		mcp.WithString("element_id",
			mcp.Required(),
			mcp.Description("Element identifier from ui_describe"),
		),
		mcp.WithString("fingerprint",
			mcp.Description("View fingerprint from ui_describe; enables coordinate caching"),
		),
		mcp.WithString("app_id",
			mcp.Description("Bundle identifier of the foreground app, for cache partitioning"),
		),
		mcp.WithString("app_version",
			mcp.Description("App version, for cache partitioning across releases"),
		),
		mcp.WithNumber("x",
			mcp.Description("Tap x coordinate in points. Required unless cached."),
		),
		mcp.WithNumber("y",
			mcp.Description("Tap y coordinate in points. Required unless cached."),
		),
		mcp.WithString("element_type",
			mcp.Description("Element type from ui_describe (Button, TextField, ...)"),
		),
	)
}

// Handle processes the ui_tap tool call.
func (t *TapTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	udid := req.GetString("udid", "")
	elementID := req.GetString("element_id", "")
	if udid == "" || elementID == "" {
		return mcp.NewToolResultError("udid and element_id are required"), nil
	}

	fingerprint := req.GetString("fingerprint", "")
	appID := req.GetString("app_id", "")
	appVersion := req.GetString("app_version", "")
	x, hasX := floatArg(req, "x")
	y, hasY := floatArg(req, "y")

	// Cached path first.
	if fingerprint != "" {
		if cached, ok := t.coords.Lookup(fingerprint, appID, elementID, appVersion); ok {
			res, err := t.tap(ctx, udid, cached.X, cached.Y)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("failed to run idb: %v", err)), nil
			}
			if res.ExitCode == 0 {
				t.coords.RecordSuccess(fingerprint, appID, elementID, appVersion)
				return mcp.NewToolResultText(fmt.Sprintf(
					"Tapped %q at cached (%.0f, %.0f).", elementID, cached.X, cached.Y,
				)), nil
			}
			// Stale entry: drop it and fall through to explicit
			// coordinates if we have them.
			t.coords.Invalidate(fingerprint, appID, elementID, appVersion)
			if !hasX || !hasY {
				return mcp.NewToolResultError(fmt.Sprintf(
					"cached tap on %q failed (%s); the cached position was discarded. "+
						"Run ui_describe again for fresh coordinates.",
					elementID, strings.TrimSpace(res.Stderr),
				)), nil
			}
		}
	}

	if !hasX || !hasY {
		return mcp.NewToolResultError(
			"x and y are required: no cached position exists for this element. Get them from ui_describe.",
		), nil
	}

	res, err := t.tap(ctx, udid, x, y)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to run idb: %v", err)), nil
	}
	if res.ExitCode != 0 {
		return mcp.NewToolResultError(fmt.Sprintf(
			"tap on %q at (%.0f, %.0f) failed: %s", elementID, x, y, strings.TrimSpace(res.Stderr),
		)), nil
	}

	// Only successful taps teach the cache.
	if fingerprint != "" {
		t.coords.Put(coordcache.PutParams{
			Fingerprint: fingerprint,
			AppID:       appID,
			AppVersion:  appVersion,
			ElementID:   elementID,
			ElementType: req.GetString("element_type", ""),
			X:           x,
			Y:           y,
		})
	}

	return mcp.NewToolResultText(fmt.Sprintf("Tapped %q at (%.0f, %.0f).", elementID, x, y)), nil
}

// tap issues the actual idb tap.
func (t *TapTool) tap(ctx context.Context, udid string, x, y float64) (xcrun.Result, error) {
	return t.runner.Run(ctx, "idb", "ui", "tap",
		fmt.Sprintf("%.0f", x), fmt.Sprintf("%.0f", y), "--udid", udid)
}
