package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/appforge-labs/xcpilot/internal/prefcache"
	"github.com/appforge-labs/xcpilot/internal/respcache"
	"github.com/appforge-labs/xcpilot/internal/xcrun"
)

// TestTool handles the ios_test MCP tool. Settings resolve the same
// way ios_build's do, but from a separate preference domain: the
// destination that runs tests fastest is often not the one used for
// day-to-day builds.
type TestTool struct {
	runner    xcrun.Runner
	prefs     *prefcache.Cache
	responses *respcache.Cache
}

// NewTestTool creates a TestTool with the given dependencies.
func NewTestTool(runner xcrun.Runner, prefs *prefcache.Cache, responses *respcache.Cache) *TestTool {
	return &TestTool{runner: runner, prefs: prefs, responses: responses}
}

// Definition returns the MCP tool definition for ios_test.
func (t *TestTool) Definition() mcp.Tool {
	return mcp.NewTool("ios_test",
		mcp.WithDescription(
			"Run an iOS project's tests with xcodebuild. Omitted settings reuse the last "+
				"configuration that ran this project's tests successfully.",
		),
		mcp.WithString("project_path",
			mcp.Required(),
			mcp.Description("Path to the .xcodeproj or .xcworkspace"),
		),
		mcp.WithString("scheme",
			mcp.Description("Scheme to test. Falls back to the last successful scheme for this project."),
		),
		mcp.WithString("destination",
			mcp.Description("xcodebuild -destination value. Default: last successful, then an iPhone simulator."),
		),
		mcp.WithString("only_testing",
			mcp.Description("Restrict to one test target/class/method, e.g. MyAppTests/LoginTests"),
		),
	)
}

// Handle processes the ios_test tool call.
func (t *TestTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectPath := req.GetString("project_path", "")
	if projectPath == "" {
		return mcp.NewToolResultError("project_path is required"), nil
	}

	preferred, _ := t.prefs.GetPreferred(projectPath)
	scheme := prefcache.Resolve(req.GetString("scheme", ""), preferred.Config["scheme"], "")
	destination := prefcache.Resolve(req.GetString("destination", ""), preferred.Config["destination"], defaultDestination)

	if scheme == "" {
		return mcp.NewToolResultError(
			"scheme is required on the first test run of a project; later runs reuse the last successful scheme",
		), nil
	}

	args := []string{projectFlag(projectPath), projectPath,
		"-scheme", scheme,
		"-destination", destination,
	}
	if only := req.GetString("only_testing", ""); only != "" {
		args = append(args, "-only-testing:"+only)
	}
	args = append(args, "test")

	res, err := t.runner.Run(ctx, "xcodebuild", args...)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to run xcodebuild: %v", err)), nil
	}

	combined := res.Stdout
	if res.Stderr != "" {
		combined += "\n" + res.Stderr
	}
	errorCount, warningCount := countIssues(combined)
	summary := testSummary(combined)

	t.prefs.RecordResult(projectPath, map[string]string{
		"scheme":      scheme,
		"destination": destination,
	}, prefcache.Outcome{
		Success:      res.ExitCode == 0,
		Duration:     res.Duration,
		ErrorCount:   errorCount,
		WarningCount: warningCount,
		SizeBytes:    int64(len(combined)),
	})

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Tests %s in %s\n", statusWord(res.ExitCode), res.Duration.Round(time.Millisecond)))
	if summary != "" {
		sb.WriteString(summary)
		sb.WriteString("\n")
	}

	if res.ExitCode != 0 {
		if failures := failedTestLines(combined, 15); len(failures) > 0 {
			sb.WriteString("\nFailed tests:\n")
			for _, line := range failures {
				sb.WriteString("  ")
				sb.WriteString(line)
				sb.WriteString("\n")
			}
		}
	}

	metadata := map[string]string{
		"project": projectPath,
		"scheme":  scheme,
	}
	if summary != "" {
		metadata["tests"] = summary
	}

	sb.WriteString("\n")
	sb.WriteString(deliverOutput(t.responses, respcache.StoreParams{
		Tool:     "ios_test",
		Output:   combined,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		Command:  res.Command,
		Metadata: metadata,
	}))

	if res.ExitCode != 0 {
		return mcp.NewToolResultError(sb.String()), nil
	}
	return mcp.NewToolResultText(sb.String()), nil
}

var (
	// "Executed 42 tests, with 1 failure (0 unexpected) in 3.214 seconds"
	executedLinePattern = regexp.MustCompile(`Executed \d+ tests?, with \d+ failures?`)
	failedCasePattern   = regexp.MustCompile(`(?m)^.*Test [Cc]ase '([^']+)' failed.*$`)
)

// testSummary pulls xcodebuild's final "Executed N tests" line.
func testSummary(output string) string {
	matches := executedLinePattern.FindAllString(output, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1]
}

// failedTestLines lists the names of failed test cases, at most max.
func failedTestLines(output string, max int) []string {
	var out []string
	for _, m := range failedCasePattern.FindAllStringSubmatch(output, -1) {
		out = append(out, m[1])
		if len(out) >= max {
			break
		}
	}
	return out
}
