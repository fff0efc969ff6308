package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/appforge-labs/xcpilot/internal/prefcache"
	"github.com/appforge-labs/xcpilot/internal/simstate"
	"github.com/appforge-labs/xcpilot/internal/xcrun"
)

// SimListTool handles the sim_list MCP tool. Besides listing devices,
// it feeds every observed device state into the lifecycle tracker, so
// the tracker stays in sync with reality even when devices are booted
// or shut down outside xcpilot.
type SimListTool struct {
	runner  xcrun.Runner
	tracker *simstate.Tracker
	prefs   *prefcache.Cache
}

// NewSimListTool creates a SimListTool with the given dependencies.
func NewSimListTool(runner xcrun.Runner, tracker *simstate.Tracker, prefs *prefcache.Cache) *SimListTool {
	return &SimListTool{runner: runner, tracker: tracker, prefs: prefs}
}

// Definition returns the MCP tool definition for sim_list.
func (t *SimListTool) Definition() mcp.Tool {
	return mcp.NewTool("sim_list",
		mcp.WithDescription(
			"List available iOS simulators with their UDIDs and current states.",
		),
		mcp.WithBoolean("available_only",
			mcp.Description("Only show simulators whose runtime is installed (default true)"),
		),
	)
}

// simctlDevice mirrors one device entry in `simctl list devices --json`.
type simctlDevice struct {
	UDID        string `json:"udid"`
	Name        string `json:"name"`
	State       string `json:"state"`
	IsAvailable bool   `json:"isAvailable"`
}

type simctlDeviceList struct {
	Devices map[string][]simctlDevice `json:"devices"`
}

// Handle processes the sim_list tool call.
func (t *SimListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.runner.Run(ctx, "xcrun", "simctl", "list", "devices", "--json")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to run simctl: %v", err)), nil
	}
	if res.ExitCode != 0 {
		return mcp.NewToolResultError(fmt.Sprintf("simctl list failed: %s", strings.TrimSpace(res.Stderr))), nil
	}

	var list simctlDeviceList
	if err := json.Unmarshal([]byte(res.Stdout), &list); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("could not parse simctl output: %v", err)), nil
	}

	availableOnly := boolArg(req, "available_only", true)

	preferredUDID := ""
	if rec, ok := t.prefs.GetPreferred(preferredDeviceKey); ok {
		preferredUDID = rec.Config["udid"]
	}

	runtimes := make([]string, 0, len(list.Devices))
	for rt := range list.Devices {
		runtimes = append(runtimes, rt)
	}
	sort.Strings(runtimes)

	var sb strings.Builder
	total := 0
	for _, rt := range runtimes {
		devices := list.Devices[rt]
		var kept []simctlDevice
		for _, d := range devices {
			t.syncTracker(d)
			if availableOnly && !d.IsAvailable {
				continue
			}
			kept = append(kept, d)
		}
		if len(kept) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s\n", runtimeDisplayName(rt)))
		for _, d := range kept {
			marker := ""
			if d.UDID == preferredUDID {
				marker = "  [preferred]"
			}
			sb.WriteString(fmt.Sprintf("  %s  %s  (%s)%s\n", d.UDID, d.Name, d.State, marker))
			total++
		}
	}

	if total == 0 {
		return mcp.NewToolResultText("No simulators found. Install a runtime via Xcode > Settings > Platforms."), nil
	}
	sb.WriteString(fmt.Sprintf("\n%d simulators. Boot one with sim_boot and its UDID.", total))
	return mcp.NewToolResultText(sb.String()), nil
}

// syncTracker records externally observed state changes in the ledger.
func (t *SimListTool) syncTracker(d simctlDevice) {
	observed := simstate.ParseState(d.State)
	if observed == simstate.StateUnknown {
		return
	}
	current := t.tracker.Current(d.UDID)
	if current != observed {
		t.tracker.RecordTransition(d.UDID, current, observed, "sim_list", true, nil)
	}
}

// runtimeDisplayName turns a runtime identifier like
// "com.apple.CoreSimulator.SimRuntime.iOS-18-0" into "iOS 18.0".
func runtimeDisplayName(id string) string {
	const prefix = "com.apple.CoreSimulator.SimRuntime."
	name := strings.TrimPrefix(id, prefix)
	name = strings.ReplaceAll(name, "-", " ")
	// "iOS 18 0" → "iOS 18.0": rejoin the trailing version numbers.
	parts := strings.Split(name, " ")
	if len(parts) >= 3 {
		return parts[0] + " " + strings.Join(parts[1:], ".")
	}
	return name
}
