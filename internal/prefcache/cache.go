// Package prefcache implements the preference-learning cache.
//
// Each instance owns one logical domain ("project" build settings,
// "device" simulator choices) and maps a primary key to the last
// configuration that succeeded for it, plus aggregated usage stats.
// Tool handlers consult it to produce smart defaults: explicit caller
// values always win, then the cached preference, then the built-in
// default.
package prefcache

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/appforge-labs/xcpilot/internal/persist"
)

// Record is the learned preference for one primary key.
type Record struct {
	Key          string            `json:"key"`
	Config       map[string]string `json:"config"`
	LastSuccess  time.Time         `json:"last_success"`
	SuccessCount int               `json:"success_count"`
	FailureCount int               `json:"failure_count"`
	// AvgDuration is a rolling mean over successful runs.
	AvgDuration time.Duration `json:"avg_duration"`
	// LastSizeBytes is the output size of the most recent successful run.
	LastSizeBytes int64 `json:"last_size_bytes"`
}

// Outcome describes the result of one operation against a key.
type Outcome struct {
	Success      bool
	Duration     time.Duration
	ErrorCount   int
	WarningCount int
	SizeBytes    int64
}

// Cache maps primary keys to learned preferences for one domain.
// Safe for concurrent use by multiple tool handlers.
type Cache struct {
	mu      sync.Mutex
	domain  string
	records map[string]*Record
	now     func() time.Time
}

// New creates a preference cache for the given domain
// (e.g. "project", "device").
func New(domain string) *Cache {
	return &Cache{
		domain:  domain,
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// SetNowFunc overrides the time source for tests.
func (c *Cache) SetNowFunc(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Domain returns the logical domain this cache learns for.
func (c *Cache) Domain() string {
	return c.domain
}

// GetPreferred returns a copy of the learned preference for key, or
// false when nothing has succeeded for it yet. The copy keeps callers
// from mutating the stored last-known-good configuration.
func (c *Cache) GetPreferred(key string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[key]
	if !ok {
		return Record{}, false
	}
	cp := *r
	cp.Config = make(map[string]string, len(r.Config))
	for k, v := range r.Config {
		cp.Config[k] = v
	}
	return cp, true
}

// RecordResult records the outcome of an operation against key.
//
// On success the stored configuration is replaced with the one just
// used, counters and derived metrics are updated, and LastSuccess is
// refreshed. On failure only FailureCount changes — a failing attempt
// never overwrites the last-known-good configuration, so one bad run
// cannot poison the smart default for the next caller.
func (c *Cache) RecordResult(key string, config map[string]string, out Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[key]
	if !ok {
		r = &Record{Key: key, Config: map[string]string{}}
		c.records[key] = r
	}

	if !out.Success {
		r.FailureCount++
		return
	}

	cfg := make(map[string]string, len(config))
	for k, v := range config {
		cfg[k] = v
	}
	r.Config = cfg
	r.LastSuccess = c.now()
	r.SuccessCount++
	r.LastSizeBytes = out.SizeBytes
	if out.Duration > 0 {
		if r.AvgDuration == 0 {
			r.AvgDuration = out.Duration
		} else {
			// Rolling mean over successful runs.
			n := time.Duration(r.SuccessCount)
			r.AvgDuration = (r.AvgDuration*(n-1) + out.Duration) / n
		}
	}
}

// Clear removes the record for key, if any.
func (c *Cache) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, key)
}

// Len returns the number of keys with records.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Resolve implements the three-tier precedence used for every
// learnable tunable: explicit caller value > cached preference >
// built-in default.
func Resolve(explicit, preferred, fallback string) string {
	if explicit != "" {
		return explicit
	}
	if preferred != "" {
		return preferred
	}
	return fallback
}

// ─── Persistence ─────────────────────────────────────────────────────────────

// snapshot is the serialized form: a flat array of records, dates as
// RFC 3339 via encoding/json's time.Time handling.
type snapshot struct {
	Records []Record `json:"records"`
}

func (c *Cache) namespace() string {
	return "prefs/" + c.domain
}

// SaveTo persists the full cache state through the durable store.
// Best-effort: failures are logged, never propagated.
func (c *Cache) SaveTo(store *persist.Store) {
	if store == nil || !store.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := snapshot{Records: make([]Record, 0, len(c.records))}
	for _, r := range c.records {
		snap.Records = append(snap.Records, *r)
	}
	if err := store.SaveState(c.namespace(), snap); err != nil {
		log.Printf("WARNING: preference cache (%s) save failed: %v", c.domain, err)
	}
}

// LoadFrom restores cache state from the durable store. Load failures
// never prevent startup — they log a warning and the cache starts empty.
func (c *Cache) LoadFrom(store *persist.Store) {
	if store == nil || !store.Enabled() {
		return
	}
	var snap snapshot
	found, err := store.LoadState(c.namespace(), &snap)
	if err != nil {
		log.Printf("WARNING: preference cache (%s) load failed, starting empty: %v", c.domain, err)
		return
	}
	if !found {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range snap.Records {
		r := snap.Records[i]
		if r.Key == "" {
			continue
		}
		if r.Config == nil {
			r.Config = map[string]string{}
		}
		c.records[r.Key] = &r
	}
}

// String describes the cache for logs.
func (c *Cache) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("prefcache(%s, %d keys)", c.domain, len(c.records))
}
