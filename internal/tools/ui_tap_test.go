package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/appforge-labs/xcpilot/internal/coordcache"
	"github.com/appforge-labs/xcpilot/internal/xcrun"
)

func newTapFixture(cacheEnabled bool) (*TapTool, *fakeRunner, *coordcache.Cache) {
	runner := newFakeRunner()
	cfg := coordcache.DefaultConfig()
	cfg.Enabled = cacheEnabled
	cfg.MaxAge = time.Hour
	coords := coordcache.New(cfg)
	return NewTapTool(runner, coords), runner, coords
}

func TestTap_ExplicitCoordinatesTapAndLearn(t *testing.T) {
	tool, runner, coords := newTapFixture(true)
	runner.on("idb ui tap", xcrun.Result{ExitCode: 0})

	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"udid":        "AAAA-1111",
		"element_id":  "Submit",
		"fingerprint": "fp-login",
		"x":           150.0,
		"y":           420.0,
	}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if isErrorResult(result) {
		t.Fatalf("expected success, got: %s", resultText(result))
	}
	if !strings.Contains(runner.lastCall(), "tap 150 420") {
		t.Errorf("tap should use the given coordinates, got: %s", runner.lastCall())
	}

	if _, ok := coords.Lookup("fp-login", "", "Submit", ""); !ok {
		t.Error("successful tap should store the coordinate")
	}
}

func TestTap_SecondTapUsesCachedCoordinates(t *testing.T) {
	tool, runner, _ := newTapFixture(true)
	runner.on("idb ui tap", xcrun.Result{ExitCode: 0})

	tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"udid":        "AAAA-1111",
		"element_id":  "Submit",
		"fingerprint": "fp-login",
		"x":           150.0,
		"y":           420.0,
	}))

	// No coordinates this time: the cache supplies them.
	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"udid":        "AAAA-1111",
		"element_id":  "Submit",
		"fingerprint": "fp-login",
	}))
	if isErrorResult(result) {
		t.Fatalf("cached tap should succeed, got: %s", resultText(result))
	}
	if !strings.Contains(resultText(result), "cached") {
		t.Errorf("response should say the tap was cached, got: %s", resultText(result))
	}
	if !strings.Contains(runner.lastCall(), "tap 150 420") {
		t.Errorf("cached tap should reuse stored coordinates, got: %s", runner.lastCall())
	}
}

func TestTap_MissWithoutCoordinatesIsToolError(t *testing.T) {
	tool, _, _ := newTapFixture(true)

	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"udid":        "AAAA-1111",
		"element_id":  "Submit",
		"fingerprint": "fp-login",
	}))
	if !isErrorResult(result) {
		t.Fatal("cache miss without x/y should be a tool error")
	}
	if !strings.Contains(resultText(result), "ui_describe") {
		t.Error("error should point the agent at ui_describe")
	}
}

func TestTap_FailedCachedTapInvalidatesEntry(t *testing.T) {
	tool, runner, coords := newTapFixture(true)
	runner.on("idb ui tap", xcrun.Result{ExitCode: 0})

	tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"udid":        "AAAA-1111",
		"element_id":  "Submit",
		"fingerprint": "fp-login",
		"x":           150.0,
		"y":           420.0,
	}))

	// The next tap fails: the layout changed under us.
	failing := newFakeRunner()
	failing.on("idb ui tap", xcrun.Result{Stderr: "tap target out of bounds", ExitCode: 1})
	tool.runner = failing

	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"udid":        "AAAA-1111",
		"element_id":  "Submit",
		"fingerprint": "fp-login",
	}))
	if !isErrorResult(result) {
		t.Fatal("failed cached tap without fallback coordinates should be a tool error")
	}

	if _, ok := coords.Lookup("fp-login", "", "Submit", ""); ok {
		t.Error("failed cached tap should invalidate the stored coordinate")
	}
}

func TestTap_FailedCachedTapFallsBackToExplicitCoordinates(t *testing.T) {
	tool, runner, _ := newTapFixture(true)
	runner.on("idb ui tap", xcrun.Result{ExitCode: 0})

	tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"udid":        "AAAA-1111",
		"element_id":  "Submit",
		"fingerprint": "fp-login",
		"x":           150.0,
		"y":           420.0,
	}))

	// Cached position fails, fresh coordinates are supplied in the call.
	mixed := newFakeRunner()
	mixed.on("tap 150 420", xcrun.Result{Stderr: "tap target out of bounds", ExitCode: 1})
	mixed.on("tap 200 500", xcrun.Result{ExitCode: 0})
	tool.runner = mixed

	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"udid":        "AAAA-1111",
		"element_id":  "Submit",
		"fingerprint": "fp-login",
		"x":           200.0,
		"y":           500.0,
	}))
	if isErrorResult(result) {
		t.Fatalf("fallback to explicit coordinates should succeed, got: %s", resultText(result))
	}
	if mixed.callCount() != 2 {
		t.Errorf("expected cached attempt then explicit retry, got %d calls", mixed.callCount())
	}
}

func TestTap_DisabledCacheAlwaysNeedsCoordinates(t *testing.T) {
	tool, runner, coords := newTapFixture(false)
	runner.on("idb ui tap", xcrun.Result{ExitCode: 0})

	tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"udid":        "AAAA-1111",
		"element_id":  "Submit",
		"fingerprint": "fp-login",
		"x":           150.0,
		"y":           420.0,
	}))

	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"udid":        "AAAA-1111",
		"element_id":  "Submit",
		"fingerprint": "fp-login",
	}))
	if !isErrorResult(result) {
		t.Error("with the cache disabled, a repeat tap still needs coordinates")
	}
	if coords.Stats().Coordinates != 0 {
		t.Error("disabled cache must not store coordinates")
	}
}

func TestTap_NoFingerprintSkipsCache(t *testing.T) {
	tool, runner, coords := newTapFixture(true)
	runner.on("idb ui tap", xcrun.Result{ExitCode: 0})

	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"udid":       "AAAA-1111",
		"element_id": "Submit",
		"x":          10.0,
		"y":          20.0,
	}))
	if isErrorResult(result) {
		t.Fatalf("tap without fingerprint should still work, got: %s", resultText(result))
	}
	if coords.Stats().Coordinates != 0 {
		t.Error("taps without a fingerprint must not populate the cache")
	}
}
