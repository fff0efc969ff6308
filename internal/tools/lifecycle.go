package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/appforge-labs/xcpilot/internal/simstate"
	"github.com/appforge-labs/xcpilot/internal/xcrun"
)

// ShutdownTool handles the sim_shutdown MCP tool.
type ShutdownTool struct {
	runner  xcrun.Runner
	tracker *simstate.Tracker
}

// NewShutdownTool creates a ShutdownTool with the given dependencies.
func NewShutdownTool(runner xcrun.Runner, tracker *simstate.Tracker) *ShutdownTool {
	return &ShutdownTool{runner: runner, tracker: tracker}
}

// Definition returns the MCP tool definition for sim_shutdown.
func (t *ShutdownTool) Definition() mcp.Tool {
	return mcp.NewTool("sim_shutdown",
		mcp.WithDescription("Shut down a booted iOS simulator."),
		mcp.WithString("udid",
			mcp.Required(),
			mcp.Description("Simulator UDID from sim_list"),
		),
	)
}

// Handle processes the sim_shutdown tool call.
func (t *ShutdownTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	udid := req.GetString("udid", "")
	if udid == "" {
		return mcp.NewToolResultError("udid is required"), nil
	}

	if !t.tracker.AcquireLock(udid) {
		return mcp.NewToolResultError(fmt.Sprintf(
			"another lifecycle operation is already in progress for %s; retry when it finishes", udid,
		)), nil
	}
	defer t.tracker.ReleaseLock(udid)

	from := t.tracker.Current(udid)
	res, err := t.runner.Run(ctx, "xcrun", "simctl", "shutdown", udid)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to run simctl: %v", err)), nil
	}

	if res.ExitCode != 0 {
		stderr := strings.TrimSpace(res.Stderr)
		if strings.Contains(stderr, "current state: Shutdown") {
			t.tracker.RecordTransition(udid, from, simstate.StateShutdown, "sim_shutdown", true, nil)
			return mcp.NewToolResultText(fmt.Sprintf("Simulator %s is already shut down.", udid)), nil
		}
		opErr := fmt.Errorf("simctl shutdown: %s", stderr)
		t.tracker.RecordTransition(udid, from, from, "sim_shutdown", false, opErr)
		return mcp.NewToolResultError(fmt.Sprintf("shutdown failed for %s: %s", udid, stderr)), nil
	}

	t.tracker.RecordTransition(udid, from, simstate.StateShutdown, "sim_shutdown", true, nil)
	return mcp.NewToolResultText(fmt.Sprintf("Simulator %s shut down in %s.", udid, res.Duration.Round(time.Millisecond))), nil
}

// EraseTool handles the sim_erase MCP tool.
type EraseTool struct {
	runner  xcrun.Runner
	tracker *simstate.Tracker
}

// NewEraseTool creates an EraseTool with the given dependencies.
func NewEraseTool(runner xcrun.Runner, tracker *simstate.Tracker) *EraseTool {
	return &EraseTool{runner: runner, tracker: tracker}
}

// Definition returns the MCP tool definition for sim_erase.
func (t *EraseTool) Definition() mcp.Tool {
	return mcp.NewTool("sim_erase",
		mcp.WithDescription(
			"Erase an iOS simulator back to factory state. The device must be shut down first.",
		),
		mcp.WithString("udid",
			mcp.Required(),
			mcp.Description("Simulator UDID from sim_list"),
		),
	)
}

// Handle processes the sim_erase tool call.
func (t *EraseTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	udid := req.GetString("udid", "")
	if udid == "" {
		return mcp.NewToolResultError("udid is required"), nil
	}

	if !t.tracker.AcquireLock(udid) {
		return mcp.NewToolResultError(fmt.Sprintf(
			"another lifecycle operation is already in progress for %s; retry when it finishes", udid,
		)), nil
	}
	defer t.tracker.ReleaseLock(udid)

	from := t.tracker.Current(udid)
	t.tracker.RecordTransition(udid, from, simstate.StateErasing, "sim_erase", true, nil)

	res, err := t.runner.Run(ctx, "xcrun", "simctl", "erase", udid)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to run simctl: %v", err)), nil
	}

	if res.ExitCode != 0 {
		stderr := strings.TrimSpace(res.Stderr)
		opErr := fmt.Errorf("simctl erase: %s", stderr)
		t.tracker.RecordTransition(udid, simstate.StateErasing, from, "sim_erase", false, opErr)
		if strings.Contains(stderr, "Booted") {
			return mcp.NewToolResultError(fmt.Sprintf(
				"erase failed for %s: the device is booted. Run sim_shutdown first.", udid,
			)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("erase failed for %s: %s", udid, stderr)), nil
	}

	t.tracker.RecordTransition(udid, simstate.StateErasing, simstate.StateErased, "sim_erase", true, nil)
	return mcp.NewToolResultText(fmt.Sprintf("Simulator %s erased in %s.", udid, res.Duration.Round(time.Millisecond))), nil
}
