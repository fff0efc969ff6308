package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/appforge-labs/xcpilot/internal/prefcache"
	"github.com/appforge-labs/xcpilot/internal/simstate"
	"github.com/appforge-labs/xcpilot/internal/xcrun"
)

// preferredDeviceKey is the preference-cache key for the default boot
// target. There is one per cache domain, not per project: the "last
// device that booted fine" is a machine-level fact.
const preferredDeviceKey = "default-device"

// BootTool handles the sim_boot MCP tool.
//
// Booting takes the device's structural lock (so a concurrent erase
// can't race the boot), records the attempt in the lifecycle ledger,
// then waits for the device to converge on the booted state.
type BootTool struct {
	runner      xcrun.Runner
	tracker     *simstate.Tracker
	prefs       *prefcache.Cache
	bootTimeout time.Duration
}

// NewBootTool creates a BootTool with the given dependencies.
func NewBootTool(runner xcrun.Runner, tracker *simstate.Tracker, prefs *prefcache.Cache, bootTimeout time.Duration) *BootTool {
	return &BootTool{runner: runner, tracker: tracker, prefs: prefs, bootTimeout: bootTimeout}
}

// Definition returns the MCP tool definition for sim_boot.
func (t *BootTool) Definition() mcp.Tool {
	return mcp.NewTool("sim_boot",
		mcp.WithDescription(
			"Boot an iOS simulator and wait until it is ready. With no UDID, "+
				"boots the last device that booted successfully.",
		),
		mcp.WithString("udid",
			mcp.Description("Simulator UDID from sim_list. Optional after the first successful boot."),
		),
	)
}

// Handle processes the sim_boot tool call.
func (t *BootTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	udid := req.GetString("udid", "")
	if udid == "" {
		preferred, ok := t.prefs.GetPreferred(preferredDeviceKey)
		if !ok || preferred.Config["udid"] == "" {
			return mcp.NewToolResultError(
				"udid is required: no previously booted device is known yet. Run sim_list to find one.",
			), nil
		}
		udid = preferred.Config["udid"]
	}

	if !t.tracker.AcquireLock(udid) {
		return mcp.NewToolResultError(fmt.Sprintf(
			"another lifecycle operation is already in progress for %s; retry when it finishes", udid,
		)), nil
	}
	defer t.tracker.ReleaseLock(udid)

	if t.tracker.Current(udid) == simstate.StateBooted {
		return mcp.NewToolResultText(fmt.Sprintf("Simulator %s is already booted.", udid)), nil
	}

	from := t.tracker.Current(udid)
	res, err := t.runner.Run(ctx, "xcrun", "simctl", "boot", udid)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to run simctl: %v", err)), nil
	}

	if res.ExitCode != 0 {
		stderr := strings.TrimSpace(res.Stderr)
		// simctl refuses to boot a device that is already booted; the
		// tracker just hadn't observed it yet.
		if strings.Contains(stderr, "current state: Booted") {
			t.tracker.RecordTransition(udid, from, simstate.StateBooted, "sim_boot", true, nil)
			t.rememberDevice(udid, 0)
			return mcp.NewToolResultText(fmt.Sprintf("Simulator %s is already booted.", udid)), nil
		}
		bootErr := fmt.Errorf("simctl boot: %s", stderr)
		t.tracker.RecordTransition(udid, from, from, "sim_boot", false, bootErr)
		t.prefs.RecordResult(preferredDeviceKey, nil, prefcache.Outcome{Success: false})
		return mcp.NewToolResultError(fmt.Sprintf("boot failed for %s: %s", udid, stderr)), nil
	}

	t.tracker.RecordTransition(udid, from, simstate.StateBooting, "sim_boot", true, nil)

	waitCtx, cancel := context.WithTimeout(ctx, t.bootTimeout)
	defer cancel()
	start := time.Now()
	converged := t.tracker.WaitUntil(waitCtx, udid, simstate.StateBooted)
	elapsed := time.Since(start).Round(time.Millisecond)

	if !converged {
		// Not a failure: slow boots finish eventually, and the next
		// operation against the device will tell the truth.
		return mcp.NewToolResultText(fmt.Sprintf(
			"Simulator %s boot started, but did not report booted within %s. "+
				"It is likely still booting; check with sim_list.", udid, t.bootTimeout,
		)), nil
	}

	t.rememberDevice(udid, res.Duration+elapsed)
	return mcp.NewToolResultText(fmt.Sprintf("Simulator %s booted in %s.", udid, elapsed)), nil
}

// rememberDevice stores the device as the preferred boot target.
func (t *BootTool) rememberDevice(udid string, d time.Duration) {
	t.prefs.RecordResult(preferredDeviceKey, map[string]string{"udid": udid}, prefcache.Outcome{
		Success:  true,
		Duration: d,
	})
}
