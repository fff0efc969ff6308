package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/appforge-labs/xcpilot/internal/prefcache"
	"github.com/appforge-labs/xcpilot/internal/simstate"
	"github.com/appforge-labs/xcpilot/internal/xcrun"
)

const simctlListFixture = `{
	"devices": {
		"com.apple.CoreSimulator.SimRuntime.iOS-18-0": [
			{"udid": "AAAA-1111", "name": "iPhone 16", "state": "Booted", "isAvailable": true},
			{"udid": "BBBB-2222", "name": "iPhone 16 Pro", "state": "Shutdown", "isAvailable": true},
			{"udid": "CCCC-3333", "name": "iPhone 14", "state": "Shutdown", "isAvailable": false}
		]
	}
}`

func newSimListFixture() (*SimListTool, *fakeRunner, *simstate.Tracker, *prefcache.Cache) {
	runner := newFakeRunner()
	tracker := simstate.New(simstate.Config{PollInterval: time.Millisecond, WaitCeiling: time.Second})
	prefs := prefcache.New("simulator")
	return NewSimListTool(runner, tracker, prefs), runner, tracker, prefs
}

func TestSimList_ListsAvailableDevices(t *testing.T) {
	tool, runner, _, _ := newSimListFixture()
	runner.on("simctl list", xcrun.Result{Stdout: simctlListFixture, ExitCode: 0})

	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	text := resultText(result)
	if !strings.Contains(text, "AAAA-1111") || !strings.Contains(text, "iPhone 16") {
		t.Errorf("listing should include available devices, got: %s", text)
	}
	if strings.Contains(text, "CCCC-3333") {
		t.Error("unavailable devices should be hidden by default")
	}
	if !strings.Contains(text, "iOS 18.0") {
		t.Errorf("runtime identifier should render as a display name, got: %s", text)
	}
}

func TestSimList_AvailableOnlyFalseShowsEverything(t *testing.T) {
	tool, runner, _, _ := newSimListFixture()
	runner.on("simctl list", xcrun.Result{Stdout: simctlListFixture, ExitCode: 0})

	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"available_only": false,
	}))
	if !strings.Contains(resultText(result), "CCCC-3333") {
		t.Error("available_only=false should include unavailable devices")
	}
}

func TestSimList_SyncsObservedStatesIntoTracker(t *testing.T) {
	tool, runner, tracker, _ := newSimListFixture()
	runner.on("simctl list", xcrun.Result{Stdout: simctlListFixture, ExitCode: 0})

	tool.Handle(context.Background(), makeReq(map[string]interface{}{}))

	if got := tracker.Current("AAAA-1111"); got != simstate.StateBooted {
		t.Errorf("tracker state for booted device = %q, want booted", got)
	}
	if got := tracker.Current("BBBB-2222"); got != simstate.StateShutdown {
		t.Errorf("tracker state for shutdown device = %q, want shutdown", got)
	}

	hist := tracker.History("AAAA-1111")
	if len(hist) != 1 || hist[0].Operation != "sim_list" {
		t.Errorf("externally observed state should land in the ledger, got %+v", hist)
	}

	// A second identical listing records nothing new.
	tool.Handle(context.Background(), makeReq(map[string]interface{}{}))
	if len(tracker.History("AAAA-1111")) != 1 {
		t.Error("unchanged states must not append duplicate transitions")
	}
}

func TestSimList_MarksPreferredDevice(t *testing.T) {
	tool, runner, _, prefs := newSimListFixture()
	runner.on("simctl list", xcrun.Result{Stdout: simctlListFixture, ExitCode: 0})
	prefs.RecordResult(preferredDeviceKey, map[string]string{"udid": "BBBB-2222"}, prefcache.Outcome{Success: true})

	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{}))
	text := resultText(result)
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, "BBBB-2222") && !strings.Contains(line, "[preferred]") {
			t.Errorf("preferred device line should carry the marker, got: %s", line)
		}
		if strings.Contains(line, "AAAA-1111") && strings.Contains(line, "[preferred]") {
			t.Errorf("non-preferred device must not carry the marker, got: %s", line)
		}
	}
}

func TestSimList_SimctlFailureIsToolError(t *testing.T) {
	tool, runner, _, _ := newSimListFixture()
	runner.on("simctl list", xcrun.Result{Stderr: "Unable to locate Xcode", ExitCode: 1})

	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{}))
	if !isErrorResult(result) {
		t.Fatal("simctl failure should be a tool error")
	}
	if !strings.Contains(resultText(result), "Unable to locate Xcode") {
		t.Error("tool error should carry simctl's stderr")
	}
}
