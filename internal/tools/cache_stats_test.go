package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/appforge-labs/xcpilot/internal/coordcache"
	"github.com/appforge-labs/xcpilot/internal/prefcache"
	"github.com/appforge-labs/xcpilot/internal/respcache"
	"github.com/appforge-labs/xcpilot/internal/simstate"
)

func TestCacheStats_ReportsAllCaches(t *testing.T) {
	responses := respcache.New(respcache.DefaultConfig())
	responses.Store(respcache.StoreParams{Tool: "ios_build", Output: "out"})

	buildPrefs := prefcache.New("build")
	buildPrefs.RecordResult("/work/App.xcodeproj", map[string]string{"scheme": "App"}, prefcache.Outcome{Success: true})
	testPrefs := prefcache.New("test")

	cfg := coordcache.DefaultConfig()
	cfg.Enabled = true
	cfg.MaxAge = time.Hour
	coords := coordcache.New(cfg)
	coords.Put(coordcache.PutParams{Fingerprint: "fp", ElementID: "Submit", X: 1, Y: 2})

	tracker := simstate.New(simstate.Config{})
	tracker.RecordTransition("AAAA-1111", simstate.StateUnknown, simstate.StateBooted, "sim_boot", true, nil)

	tool := NewCacheStatsTool(responses, coords, tracker, buildPrefs, testPrefs)
	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	text := resultText(result)

	if !strings.Contains(text, "Stored responses**: 1") {
		t.Errorf("stats should count stored responses, got: %s", text)
	}
	if !strings.Contains(text, "build preferences**: 1") {
		t.Errorf("stats should count build preferences, got: %s", text)
	}
	if !strings.Contains(text, "test preferences**: 0") {
		t.Errorf("stats should list every preference domain, got: %s", text)
	}
	if !strings.Contains(text, "1 coordinates across 1 views") {
		t.Errorf("stats should describe the coordinate cache, got: %s", text)
	}
	if !strings.Contains(text, "Tracked simulators**: 1") || !strings.Contains(text, "AAAA-1111: booted") {
		t.Errorf("stats should list tracked simulators with their states, got: %s", text)
	}
}

func TestCacheStats_DisabledCoordinateCache(t *testing.T) {
	responses := respcache.New(respcache.DefaultConfig())
	coords := coordcache.New(coordcache.DefaultConfig()) // disabled by default

	tool := NewCacheStatsTool(responses, coords, simstate.New(simstate.Config{}))
	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{}))
	text := resultText(result)
	if !strings.Contains(text, "disabled") {
		t.Errorf("stats should say the coordinate cache is disabled, got: %s", text)
	}
	if !strings.Contains(text, "Tracked simulators**: none") {
		t.Errorf("stats should report no tracked simulators, got: %s", text)
	}
}
