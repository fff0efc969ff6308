package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/appforge-labs/xcpilot/internal/prefcache"
	"github.com/appforge-labs/xcpilot/internal/respcache"
	"github.com/appforge-labs/xcpilot/internal/xcrun"
)

func newBuildFixture() (*BuildTool, *fakeRunner, *prefcache.Cache) {
	runner := newFakeRunner()
	prefs := prefcache.New("build")
	responses := respcache.New(respcache.DefaultConfig())
	return NewBuildTool(runner, prefs, responses), runner, prefs
}

func TestBuild_RequiresProjectPath(t *testing.T) {
	tool, _, _ := newBuildFixture()
	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if !isErrorResult(result) {
		t.Error("missing project_path should be a tool error")
	}
}

func TestBuild_RequiresSchemeOnFirstBuild(t *testing.T) {
	tool, _, _ := newBuildFixture()
	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"project_path": "/work/App.xcodeproj",
	}))
	if !isErrorResult(result) {
		t.Fatal("first build without a scheme should be a tool error")
	}
	if !strings.Contains(resultText(result), "scheme") {
		t.Errorf("error should explain the missing scheme, got: %s", resultText(result))
	}
}

func TestBuild_SuccessLearnsPreferences(t *testing.T) {
	tool, runner, prefs := newBuildFixture()
	runner.on("xcodebuild", xcrun.Result{Stdout: "BUILD SUCCEEDED", ExitCode: 0})

	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"project_path":  "/work/App.xcodeproj",
		"scheme":        "App",
		"configuration": "Release",
	}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if isErrorResult(result) {
		t.Fatalf("expected success, got: %s", resultText(result))
	}
	if !strings.Contains(resultText(result), "SUCCEEDED") {
		t.Errorf("response should report success, got: %s", resultText(result))
	}

	rec, ok := prefs.GetPreferred("/work/App.xcodeproj")
	if !ok {
		t.Fatal("successful build should create a preference record")
	}
	if rec.Config["scheme"] != "App" || rec.Config["configuration"] != "Release" {
		t.Errorf("learned config = %v", rec.Config)
	}
}

func TestBuild_SecondBuildReusesLearnedScheme(t *testing.T) {
	tool, runner, _ := newBuildFixture()
	runner.on("xcodebuild", xcrun.Result{Stdout: "BUILD SUCCEEDED", ExitCode: 0})

	first, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"project_path": "/work/App.xcodeproj",
		"scheme":       "App",
	}))
	if isErrorResult(first) {
		t.Fatalf("first build failed: %s", resultText(first))
	}

	// No scheme this time: the learned one is used.
	second, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"project_path": "/work/App.xcodeproj",
	}))
	if isErrorResult(second) {
		t.Fatalf("second build should reuse the learned scheme, got: %s", resultText(second))
	}
	if !strings.Contains(runner.lastCall(), "-scheme App") {
		t.Errorf("xcodebuild should be invoked with the learned scheme, got: %s", runner.lastCall())
	}
}

func TestBuild_ExplicitArgsBeatLearnedConfig(t *testing.T) {
	tool, runner, _ := newBuildFixture()
	runner.on("xcodebuild", xcrun.Result{Stdout: "BUILD SUCCEEDED", ExitCode: 0})

	tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"project_path":  "/work/App.xcodeproj",
		"scheme":        "App",
		"configuration": "Debug",
	}))
	tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"project_path":  "/work/App.xcodeproj",
		"configuration": "Release",
	}))

	if !strings.Contains(runner.lastCall(), "-configuration Release") {
		t.Errorf("explicit configuration must win, got: %s", runner.lastCall())
	}
}

func TestBuild_FailureKeepsLastGoodConfig(t *testing.T) {
	tool, runner, prefs := newBuildFixture()
	runner.on("xcodebuild", xcrun.Result{Stdout: "BUILD SUCCEEDED", ExitCode: 0})

	tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"project_path": "/work/App.xcodeproj",
		"scheme":       "GoodScheme",
	}))

	// Rescript: everything fails now.
	failing := newFakeRunner()
	failing.on("xcodebuild", xcrun.Result{
		Stdout:   "error: no such module 'Gone'\nBUILD FAILED",
		ExitCode: 65,
	})
	tool.runner = failing

	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"project_path": "/work/App.xcodeproj",
		"scheme":       "BrokenScheme",
	}))
	if !isErrorResult(result) {
		t.Fatal("failed build should be a tool error")
	}

	rec, _ := prefs.GetPreferred("/work/App.xcodeproj")
	if rec.Config["scheme"] != "GoodScheme" {
		t.Errorf("failure must not overwrite the last good scheme, got %q", rec.Config["scheme"])
	}
	if rec.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", rec.FailureCount)
	}
}

func TestBuild_FailureReportsErrorLines(t *testing.T) {
	tool, runner, _ := newBuildFixture()
	runner.on("xcodebuild", xcrun.Result{
		Stdout:   "compiling...\n/work/App/Login.swift:10:5: error: use of unresolved identifier 'foo'\nBUILD FAILED",
		ExitCode: 65,
	})

	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"project_path": "/work/App.xcodeproj",
		"scheme":       "App",
	}))
	text := resultText(result)
	if !strings.Contains(text, "FAILED (exit code 65)") {
		t.Errorf("response should carry the exit code, got: %s", text)
	}
	if !strings.Contains(text, "unresolved identifier") {
		t.Errorf("response should surface the error line, got: %s", text)
	}
}

func TestBuild_LargeOutputStoredWithRetrievalFooter(t *testing.T) {
	tool, runner, _ := newBuildFixture()
	var out strings.Builder
	for i := 0; i < 500; i++ {
		out.WriteString("CompileSwift normal arm64 File.swift\n")
	}
	out.WriteString("BUILD SUCCEEDED")
	runner.on("xcodebuild", xcrun.Result{Stdout: out.String(), ExitCode: 0})

	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"project_path": "/work/App.xcodeproj",
		"scheme":       "App",
	}))
	text := resultText(result)
	if !strings.Contains(text, "response_detail") {
		t.Error("oversized output should include retrieval instructions")
	}
	if !strings.Contains(text, "stored as response") {
		t.Error("oversized output should name the stored response id")
	}
	if strings.Count(text, "\n") > 120 {
		t.Errorf("inline response too large: %d lines", strings.Count(text, "\n"))
	}
}

func TestBuild_WorkspaceUsesWorkspaceFlag(t *testing.T) {
	tool, runner, _ := newBuildFixture()
	runner.on("xcodebuild", xcrun.Result{Stdout: "BUILD SUCCEEDED", ExitCode: 0})

	tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"project_path": "/work/App.xcworkspace",
		"scheme":       "App",
	}))
	if !strings.Contains(runner.lastCall(), "-workspace") {
		t.Errorf("xcworkspace paths should use -workspace, got: %s", runner.lastCall())
	}
}
