package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/appforge-labs/xcpilot/internal/xcrun"
)

// --- Test helpers ---

// fakeRunner is a scripted xcrun.Runner. Results are matched against
// the full command line by substring, in registration order.
type fakeRunner struct {
	mu      sync.Mutex
	scripts []fakeScript
	calls   []string
}

type fakeScript struct {
	match  string
	result xcrun.Result
	err    error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{}
}

// on registers a result for command lines containing match.
func (f *fakeRunner) on(match string, result xcrun.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, fakeScript{match: match, result: result})
}

// onErr registers a run error for command lines containing match.
func (f *fakeRunner) onErr(match string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, fakeScript{match: match, err: err})
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (xcrun.Result, error) {
	line := xcrun.FormatCommand(name, args)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, line)
	for _, s := range f.scripts {
		if strings.Contains(line, s.match) {
			if s.err != nil {
				return xcrun.Result{}, s.err
			}
			res := s.result
			res.Command = line
			return res, nil
		}
	}
	return xcrun.Result{}, fmt.Errorf("fakeRunner: no script for %q", line)
}

// lastCall returns the most recent command line, or "".
func (f *fakeRunner) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

// callCount returns how many commands have been run.
func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// isErrorResult checks if the result is a tool error.
func isErrorResult(result *mcp.CallToolResult) bool {
	return result != nil && result.IsError
}

// resultText extracts the text content from a CallToolResult.
func resultText(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
