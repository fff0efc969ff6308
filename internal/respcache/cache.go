// Package respcache implements the progressive-disclosure response cache.
//
// Large tool outputs (build logs, test transcripts, accessibility dumps)
// are stored here in full; the tool layer returns a cheap summary plus an
// opaque id, and the AI fetches deeper detail on demand via the
// response_detail tool. This keeps any single tool response from
// dominating the context window.
package respcache

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DetailKind selects which derived view of a cached entry to return.
type DetailKind string

// Detail kinds accepted by Detail and the response_detail tool.
const (
	DetailFullLog  DetailKind = "full_log"
	DetailSummary  DetailKind = "summary"
	DetailCommand  DetailKind = "command"
	DetailMetadata DetailKind = "metadata"
)

// DetailKindValues returns the enum values for MCP tool definitions.
func DetailKindValues() []string {
	return []string{
		string(DetailFullLog),
		string(DetailSummary),
		string(DetailCommand),
		string(DetailMetadata),
	}
}

// ParseDetailKind normalizes a detail kind string, defaulting to
// full_log for empty or unrecognized values.
func ParseDetailKind(s string) DetailKind {
	switch DetailKind(s) {
	case DetailSummary, DetailCommand, DetailMetadata:
		return DetailKind(s)
	default:
		return DetailFullLog
	}
}

// Entry is one cached tool response. Immutable once stored.
type Entry struct {
	ID        string            `json:"id"`
	Tool      string            `json:"tool"`
	Output    string            `json:"output"`
	Stderr    string            `json:"stderr,omitempty"`
	ExitCode  int               `json:"exit_code"`
	Command   string            `json:"command"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// StoreParams holds the input for caching a tool response.
type StoreParams struct {
	Tool     string
	Output   string
	Stderr   string
	ExitCode int
	Command  string
	Metadata map[string]string
}

// Config holds response cache tuning.
type Config struct {
	// MaxEntries caps the number of cached responses. Oldest entries
	// are evicted first.
	MaxEntries int
	// MaxAge expires entries by creation time. Zero disables age expiry.
	MaxAge time.Duration
}

// DefaultConfig returns the default response cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxEntries: 50,
		MaxAge:     time.Hour,
	}
}

// Cache stores full tool outputs keyed by opaque id.
// Each entry is independent — there are no cross-entry invariants.
// Safe for concurrent use by multiple tool handlers.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*Entry
	now     func() time.Time
}

// New creates a response cache with the given configuration.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	return &Cache{
		cfg:     cfg,
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// SetNowFunc overrides the time source. Tests use this to control
// age-based expiry deterministically.
func (c *Cache) SetNowFunc(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Store caches a tool response and returns its opaque id.
// It always succeeds; if the cache is over capacity the oldest
// entries are evicted first.
func (c *Cache) Store(p StoreParams) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expire()

	id := uuid.NewString()
	c.entries[id] = &Entry{
		ID:        id,
		Tool:      p.Tool,
		Output:    p.Output,
		Stderr:    p.Stderr,
		ExitCode:  p.ExitCode,
		Command:   p.Command,
		Metadata:  p.Metadata,
		CreatedAt: c.now(),
	}

	for len(c.entries) > c.cfg.MaxEntries {
		c.evictOldest()
	}

	return id
}

// Get retrieves a cached entry by id. The second return value is false
// when the id is unknown or the entry has expired.
func (c *Cache) Get(id string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expire()
	e, ok := c.entries[id]
	return e, ok
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expire()
	return len(c.entries)
}

// Detail returns a derived view of a cached entry. maxLines only
// applies to the full_log kind; zero or negative means no line cap.
// An unknown id returns an error the tool layer surfaces as
// "not found or expired" — it is never a crash.
func (c *Cache) Detail(id string, kind DetailKind, maxLines int) (string, error) {
	e, ok := c.Get(id)
	if !ok {
		return "", fmt.Errorf("response %s not found or expired", id)
	}

	switch kind {
	case DetailSummary:
		return c.summarize(e), nil
	case DetailCommand:
		return e.Command, nil
	case DetailMetadata:
		return formatMetadata(e.Metadata), nil
	default:
		return TailLines(e.Output, maxLines), nil
	}
}

// summarize builds the condensed view: exit status, sizes, timestamp,
// and metadata — everything except the output text itself.
func (c *Cache) summarize(e *Entry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tool: %s\n", e.Tool)
	fmt.Fprintf(&sb, "Command: %s\n", e.Command)
	fmt.Fprintf(&sb, "Exit code: %d\n", e.ExitCode)
	fmt.Fprintf(&sb, "Output: %d bytes, %d lines\n", len(e.Output), countLines(e.Output))
	if e.Stderr != "" {
		fmt.Fprintf(&sb, "Stderr: %d bytes\n", len(e.Stderr))
	}
	fmt.Fprintf(&sb, "Captured: %s\n", e.CreatedAt.UTC().Format(time.RFC3339))
	if md := formatMetadata(e.Metadata); md != "" {
		sb.WriteString(md)
	}
	return sb.String()
}

// expire drops entries older than MaxAge.
func (c *Cache) expire() {
	if c.cfg.MaxAge <= 0 {
		return
	}
	cutoff := c.now().Add(-c.cfg.MaxAge)
	for id, e := range c.entries {
		if e.CreatedAt.Before(cutoff) {
			delete(c.entries, id)
		}
	}
}

// evictOldest removes the entry with the earliest CreatedAt.
// Ties break on id so eviction is deterministic.
func (c *Cache) evictOldest() {
	var victim string
	var victimAt time.Time
	for id, e := range c.entries {
		if victim == "" || e.CreatedAt.Before(victimAt) ||
			(e.CreatedAt.Equal(victimAt) && id < victim) {
			victim = id
			victimAt = e.CreatedAt
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}

// TailLines returns the last maxLines lines of text, prefixed with a
// marker stating how many earlier lines are available. With
// maxLines <= 0 or maxLines >= total the full text is returned.
func TailLines(text string, maxLines int) string {
	if maxLines <= 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) <= maxLines {
		return text
	}
	hidden := len(lines) - maxLines
	tail := strings.Join(lines[len(lines)-maxLines:], "\n")
	return fmt.Sprintf("[... %d more lines available — %d total. Request a higher max_lines for more.]\n%s",
		hidden, len(lines), tail)
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(text, "\n") + 1
}

func formatMetadata(md map[string]string) string {
	if len(md) == 0 {
		return ""
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", k, md[k])
	}
	return sb.String()
}
