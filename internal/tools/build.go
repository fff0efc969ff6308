package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/appforge-labs/xcpilot/internal/prefcache"
	"github.com/appforge-labs/xcpilot/internal/respcache"
	"github.com/appforge-labs/xcpilot/internal/xcrun"
)

// Default destination when neither the caller nor the preference cache
// has a better idea.
const defaultDestination = "platform=iOS Simulator,name=iPhone 16"

// BuildTool handles the ios_build MCP tool.
//
// Build settings resolve in three tiers: explicit arguments win, then
// the last settings that produced a successful build for this project,
// then static defaults. The preference cache only ever learns from
// successes, so one broken invocation never poisons future defaults.
type BuildTool struct {
	runner    xcrun.Runner
	prefs     *prefcache.Cache
	responses *respcache.Cache
}

// NewBuildTool creates a BuildTool with the given dependencies.
func NewBuildTool(runner xcrun.Runner, prefs *prefcache.Cache, responses *respcache.Cache) *BuildTool {
	return &BuildTool{runner: runner, prefs: prefs, responses: responses}
}

// Definition returns the MCP tool definition for ios_build.
func (t *BuildTool) Definition() mcp.Tool {
	return mcp.NewTool("ios_build",
		mcp.WithDescription(
			"Build an iOS project with xcodebuild. Omitted settings reuse the last "+
				"configuration that built this project successfully.",
		),
		mcp.WithString("project_path",
			mcp.Required(),
			mcp.Description("Path to the .xcodeproj or .xcworkspace"),
		),
		mcp.WithString("scheme",
			mcp.Description("Scheme to build. Falls back to the last successful scheme for this project."),
		),
		mcp.WithString("configuration",
			mcp.Description("Build configuration (Debug, Release). Default: last successful, then Debug."),
		),
		mcp.WithString("destination",
			mcp.Description("xcodebuild -destination value. Default: last successful, then an iPhone simulator."),
		),
		mcp.WithBoolean("clean",
			mcp.Description("Run a clean build (default false)"),
		),
	)
}

// Handle processes the ios_build tool call.
func (t *BuildTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectPath := req.GetString("project_path", "")
	if projectPath == "" {
		return mcp.NewToolResultError("project_path is required"), nil
	}

	preferred, _ := t.prefs.GetPreferred(projectPath)
	scheme := prefcache.Resolve(req.GetString("scheme", ""), preferred.Config["scheme"], "")
	configuration := prefcache.Resolve(req.GetString("configuration", ""), preferred.Config["configuration"], "Debug")
	destination := prefcache.Resolve(req.GetString("destination", ""), preferred.Config["destination"], defaultDestination)

	if scheme == "" {
		return mcp.NewToolResultError(
			"scheme is required on the first build of a project; later builds reuse the last successful scheme",
		), nil
	}

	args := []string{projectFlag(projectPath), projectPath,
		"-scheme", scheme,
		"-configuration", configuration,
		"-destination", destination,
	}
	if boolArg(req, "clean", false) {
		args = append(args, "clean")
	}
	args = append(args, "build")

	res, err := t.runner.Run(ctx, "xcodebuild", args...)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to run xcodebuild: %v", err)), nil
	}

	combined := res.Stdout
	if res.Stderr != "" {
		combined += "\n" + res.Stderr
	}
	errorCount, warningCount := countIssues(combined)

	t.prefs.RecordResult(projectPath, map[string]string{
		"scheme":        scheme,
		"configuration": configuration,
		"destination":   destination,
	}, prefcache.Outcome{
		Success:      res.ExitCode == 0,
		Duration:     res.Duration,
		ErrorCount:   errorCount,
		WarningCount: warningCount,
		SizeBytes:    int64(len(combined)),
	})

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Build %s in %s\n", statusWord(res.ExitCode), res.Duration.Round(time.Millisecond)))
	sb.WriteString(fmt.Sprintf("Scheme: %s | Configuration: %s | Errors: %d | Warnings: %d\n",
		scheme, configuration, errorCount, warningCount))

	if issues := issueLines(combined, 10); len(issues) > 0 {
		sb.WriteString("\n")
		for _, line := range issues {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n")
	sb.WriteString(deliverOutput(t.responses, respcache.StoreParams{
		Tool:     "ios_build",
		Output:   combined,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		Command:  res.Command,
		Metadata: map[string]string{
			"project":       projectPath,
			"scheme":        scheme,
			"configuration": configuration,
		},
	}))

	if res.ExitCode != 0 {
		return mcp.NewToolResultError(sb.String()), nil
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// projectFlag picks -workspace or -project based on the path suffix.
func projectFlag(path string) string {
	if strings.HasSuffix(path, ".xcworkspace") {
		return "-workspace"
	}
	return "-project"
}
