// Package tools implements xcpilot's MCP tool handlers.
//
// Each tool is a struct that receives its dependencies (runner, caches,
// tracker) at construction and exposes a Definition and a Handle
// compatible with mcp-go's CallToolRequest signature. One file per
// tool, so new tools are added without touching existing ones.
package tools

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/appforge-labs/xcpilot/internal/respcache"
)

// maxInlineLines is the largest output returned inline in a tool
// response. Anything longer is stored in the response cache and
// summarized, so one noisy xcodebuild run doesn't burn an agent's
// entire context window.
const maxInlineLines = 100

// inlineTailLines is how much of an oversized output still rides along
// inline (the tail is where build and test failures live).
const inlineTailLines = 40

// estimateTokens approximates LLM token usage for a string.
// ~4 characters per token holds well enough for build logs.
func estimateTokens(text string) int {
	return len(text) / 4
}

// intArg reads an integer argument. MCP arguments arrive as JSON, so
// numbers decode as float64 and need explicit conversion.
func intArg(req mcp.CallToolRequest, key string, def int) int {
	args := req.GetArguments()
	raw, ok := args[key]
	if !ok {
		return def
	}
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// floatArg reads a numeric argument, reporting whether it was present.
func floatArg(req mcp.CallToolRequest, key string) (float64, bool) {
	args := req.GetArguments()
	raw, ok := args[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// boolArg reads a boolean argument with a default.
func boolArg(req mcp.CallToolRequest, key string, def bool) bool {
	args := req.GetArguments()
	raw, ok := args[key]
	if !ok {
		return def
	}
	if v, ok := raw.(bool); ok {
		return v
	}
	return def
}

var (
	errorLinePattern   = regexp.MustCompile(`(?i)(^|\s)error[: ]`)
	warningLinePattern = regexp.MustCompile(`(?i)(^|\s)warning[: ]`)
)

// countIssues counts error and warning lines in compiler/test output.
func countIssues(output string) (errors, warnings int) {
	for _, line := range strings.Split(output, "\n") {
		switch {
		case errorLinePattern.MatchString(line):
			errors++
		case warningLinePattern.MatchString(line):
			warnings++
		}
	}
	return errors, warnings
}

// issueLines extracts up to max error/warning lines for inline display.
func issueLines(output string, max int) []string {
	var out []string
	for _, line := range strings.Split(output, "\n") {
		if errorLinePattern.MatchString(line) || warningLinePattern.MatchString(line) {
			out = append(out, strings.TrimSpace(line))
			if len(out) >= max {
				break
			}
		}
	}
	return out
}

// deliverOutput returns output inline when small, or stores it in the
// response cache and returns a tail plus retrieval instructions when
// large. The footer teaches the agent the follow-up call instead of
// assuming it knows the protocol.
func deliverOutput(cache *respcache.Cache, p respcache.StoreParams) string {
	lines := strings.Count(p.Output, "\n") + 1
	if p.Output == "" {
		lines = 0
	}
	if lines <= maxInlineLines {
		return p.Output
	}

	id := cache.Store(p)
	tail := respcache.TailLines(p.Output, inlineTailLines)

	var sb strings.Builder
	sb.WriteString(tail)
	sb.WriteString("\n\n---\n")
	sb.WriteString(fmt.Sprintf(
		"Full output: %d lines (~%d tokens), stored as response %s.\n",
		lines, estimateTokens(p.Output), id))
	sb.WriteString(fmt.Sprintf(
		"Retrieve with response_detail: {\"response_id\": %q, \"detail\": \"full_log\", \"max_lines\": 200}\n", id))
	sb.WriteString("Detail levels: full_log, summary, command, metadata.")
	return sb.String()
}

// statusWord renders an exit code for response headers.
func statusWord(exitCode int) string {
	if exitCode == 0 {
		return "SUCCEEDED"
	}
	return fmt.Sprintf("FAILED (exit code %d)", exitCode)
}
