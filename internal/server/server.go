// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it creates concrete implementations
// and injects them into the tools that depend on them. No business
// logic lives here — only wiring.
package server

import (
	"context"
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/appforge-labs/xcpilot/internal/config"
	"github.com/appforge-labs/xcpilot/internal/coordcache"
	"github.com/appforge-labs/xcpilot/internal/persist"
	"github.com/appforge-labs/xcpilot/internal/prefcache"
	"github.com/appforge-labs/xcpilot/internal/respcache"
	"github.com/appforge-labs/xcpilot/internal/simstate"
	"github.com/appforge-labs/xcpilot/internal/tools"
	"github.com/appforge-labs/xcpilot/internal/xcrun"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server with all tools registered.
// This is the single place where all dependencies are resolved.
//
// The returned cleanup function flushes cache state to disk and closes
// the persistence store; call it on shutdown (typically via defer). It
// is always non-nil and safe to call even when persistence is disabled.
func New() (*server.MCPServer, func(), error) {
	cfg := config.Load(config.DataDir())

	// --- Persistence ---
	//
	// Persistence is an independent subsystem: if the SQLite store
	// fails to open, every tool keeps working with in-memory caches.
	// We log a warning and carry on.

	store := persist.Disabled()
	if cfg.PersistenceEnabled {
		opened, err := persist.Open(cfg.DataDir)
		if err != nil {
			log.Printf("WARNING: persistence disabled, caches will not survive restarts: %v", err)
		} else {
			store = opened
		}
	}

	// --- Shared dependencies ---

	runner := xcrun.NewExecRunner()

	responses := respcache.New(respcache.Config{
		MaxEntries: cfg.ResponseCacheMaxEntries,
		MaxAge:     cfg.ResponseCacheMaxAge.Std(),
	})

	buildPrefs := prefcache.New("build")
	buildPrefs.LoadFrom(store)
	testPrefs := prefcache.New("test")
	testPrefs.LoadFrom(store)
	simPrefs := prefcache.New("simulator")
	simPrefs.LoadFrom(store)

	coords := coordcache.New(coordcache.Config{
		Enabled:               cfg.CoordinateCache.Enabled,
		MaxAge:                cfg.CoordinateCache.MaxAge.Std(),
		MinConfidence:         cfg.CoordinateCache.MinConfidence,
		MaxCoordinatesPerView: cfg.CoordinateCache.MaxCoordinatesPerView,
		MaxCachedViews:        cfg.CoordinateCache.MaxCachedViews,
		AutoDisableThreshold:  cfg.CoordinateCache.AutoDisableThreshold,
		AutoDisableMinQueries: cfg.CoordinateCache.AutoDisableMinQueries,
	})
	coords.LoadFrom(store)

	tracker := simstate.New(simstate.Config{
		PollInterval: cfg.SimulatorPollInterval.Std(),
		WaitCeiling:  cfg.SimulatorBootTimeout.Std(),
	})
	tracker.SetProbe(deviceProbe(runner))

	cleanup := func() {
		buildPrefs.SaveTo(store)
		testPrefs.SaveTo(store)
		simPrefs.SaveTo(store)
		coords.SaveTo(store)
		if err := store.Close(); err != nil {
			log.Printf("WARNING: persistence store close: %v", err)
		}
	}

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"xcpilot",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register build tools ---

	buildTool := tools.NewBuildTool(runner, buildPrefs, responses)
	s.AddTool(buildTool.Definition(), buildTool.Handle)

	testTool := tools.NewTestTool(runner, testPrefs, responses)
	s.AddTool(testTool.Definition(), testTool.Handle)

	// --- Register simulator tools ---

	simListTool := tools.NewSimListTool(runner, tracker, simPrefs)
	s.AddTool(simListTool.Definition(), simListTool.Handle)

	bootTool := tools.NewBootTool(runner, tracker, simPrefs, cfg.SimulatorBootTimeout.Std())
	s.AddTool(bootTool.Definition(), bootTool.Handle)

	shutdownTool := tools.NewShutdownTool(runner, tracker)
	s.AddTool(shutdownTool.Definition(), shutdownTool.Handle)

	eraseTool := tools.NewEraseTool(runner, tracker)
	s.AddTool(eraseTool.Definition(), eraseTool.Handle)

	// --- Register UI automation tools ---

	describeTool := tools.NewDescribeTool(runner, responses)
	s.AddTool(describeTool.Definition(), describeTool.Handle)

	tapTool := tools.NewTapTool(runner, coords)
	s.AddTool(tapTool.Definition(), tapTool.Handle)

	// --- Register introspection tools ---

	detailTool := tools.NewResponseDetailTool(responses)
	s.AddTool(detailTool.Definition(), detailTool.Handle)

	statsTool := tools.NewCacheStatsTool(responses, coords, tracker, buildPrefs, testPrefs, simPrefs)
	s.AddTool(statsTool.Definition(), statsTool.Handle)

	return s, cleanup, nil
}

// deviceProbe adapts simctl into the tracker's state refresh hook.
// Converge waits use it to notice boots that finish between polls.
func deviceProbe(runner xcrun.Runner) simstate.ProbeFunc {
	return func(udid string) (simstate.State, error) {
		res, err := runner.Run(context.Background(), "xcrun", "simctl", "list", "devices")
		if err != nil {
			return simstate.StateUnknown, err
		}
		return parseDeviceState(res.Stdout, udid), nil
	}
}

// serverInstructions returns the system instructions that tell the AI
// how to use xcpilot effectively.
func serverInstructions() string {
	return `You have access to xcpilot, an iOS development MCP server for building,
testing, and driving apps on iOS simulators.

## Tools

Build & test:
- ios_build: build a project with xcodebuild
- ios_test: run a project's tests

Simulator lifecycle:
- sim_list: list simulators with UDIDs and states
- sim_boot: boot a simulator and wait until ready
- sim_shutdown: shut a simulator down
- sim_erase: factory-reset a shut-down simulator

UI automation:
- ui_describe: dump the visible UI elements of the foreground app
- ui_tap: tap an element by coordinates (cached positions when available)

Introspection:
- response_detail: retrieve the stored output of an earlier tool call
- cache_stats: see what xcpilot has learned and stored

## Adaptive defaults — pass less, get more

ios_build and ios_test remember the last settings that WORKED for each
project. After the first successful build you can omit scheme,
configuration, and destination — the learned values are used. Explicit
arguments always win over learned ones. Failures never overwrite learned
settings, so a broken experiment does not poison future builds.

sim_boot remembers the last successfully booted device; after the first
boot you can call it with no arguments.

## Progressive disclosure — managing large outputs

xcodebuild output can run to thousands of lines. When that happens, the
tool response contains only the tail (where failures live) plus a
response id. To see more, call response_detail with that id:
- detail=summary: exit code, line count, metadata — cheapest
- detail=full_log with max_lines: the log tail, as much as you need
- detail=command: the exact command line that was run
- detail=metadata: project/scheme/configuration key-value pairs

Start small. Only fetch full_log when the inline tail was not enough.

## UI automation workflow

1. ui_describe returns the elements of the current screen plus a view
   fingerprint.
2. ui_tap taps an element. Pass element_id, the fingerprint, and the
   x/y center from ui_describe.
3. On repeat visits to the same screen, ui_tap may answer from its
   coordinate cache — you can omit x/y and skip the describe round-trip.
   If a cached tap fails, the entry is dropped automatically; re-run
   ui_describe for fresh coordinates.

The coordinate cache is OFF by default (opt in via config.json). When
enabled it disables itself automatically if its hit rate stays poor.

## Ground rules

- Always get UDIDs from sim_list; never invent them.
- sim_erase requires the device to be shut down first.
- Lifecycle operations on the same device are serialized; if a tool
  reports another operation in progress, finish or wait rather than
  retrying in a loop.`
}
