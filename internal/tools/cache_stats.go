package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/appforge-labs/xcpilot/internal/coordcache"
	"github.com/appforge-labs/xcpilot/internal/prefcache"
	"github.com/appforge-labs/xcpilot/internal/respcache"
	"github.com/appforge-labs/xcpilot/internal/simstate"
)

// CacheStatsTool handles the cache_stats MCP tool.
type CacheStatsTool struct {
	responses *respcache.Cache
	prefs     []*prefcache.Cache
	coords    *coordcache.Cache
	tracker   *simstate.Tracker
}

// NewCacheStatsTool creates a CacheStatsTool covering the given caches.
func NewCacheStatsTool(responses *respcache.Cache, coords *coordcache.Cache, tracker *simstate.Tracker, prefs ...*prefcache.Cache) *CacheStatsTool {
	return &CacheStatsTool{responses: responses, coords: coords, tracker: tracker, prefs: prefs}
}

// Definition returns the MCP tool definition for cache_stats.
func (t *CacheStatsTool) Definition() mcp.Tool {
	return mcp.NewTool("cache_stats",
		mcp.WithDescription(
			"Show statistics for xcpilot's caches: stored responses, learned "+
				"preferences, the UI coordinate cache, and tracked simulators.",
		),
	)
}

// Handle processes the cache_stats tool call.
func (t *CacheStatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var sb strings.Builder
	sb.WriteString("## Cache Statistics\n\n")

	sb.WriteString(fmt.Sprintf("- **Stored responses**: %d\n", t.responses.Len()))

	for _, p := range t.prefs {
		sb.WriteString(fmt.Sprintf("- **Learned %s preferences**: %d\n", p.Domain(), p.Len()))
	}

	cs := t.coords.Stats()
	switch {
	case cs.AutoDisabled:
		sb.WriteString(fmt.Sprintf(
			"- **Coordinate cache**: auto-disabled (hit rate %.0f%% over %d queries); restart to re-enable\n",
			cs.HitRate*100, cs.TotalQueries))
	case !cs.Enabled:
		sb.WriteString("- **Coordinate cache**: disabled (enable in config.json)\n")
	default:
		sb.WriteString(fmt.Sprintf(
			"- **Coordinate cache**: %d coordinates across %d views, hit rate %.0f%% (%d/%d)\n",
			cs.Coordinates, cs.Views, cs.HitRate*100, cs.TotalHits, cs.TotalQueries))
	}

	devices := t.tracker.Snapshot()
	if len(devices) == 0 {
		sb.WriteString("- **Tracked simulators**: none\n")
	} else {
		udids := make([]string, 0, len(devices))
		for udid := range devices {
			udids = append(udids, udid)
		}
		sort.Strings(udids)
		sb.WriteString(fmt.Sprintf("- **Tracked simulators**: %d\n", len(udids)))
		for _, udid := range udids {
			sb.WriteString(fmt.Sprintf("  - %s: %s\n", udid, devices[udid]))
		}
	}

	return mcp.NewToolResultText(sb.String()), nil
}
