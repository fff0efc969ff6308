// Package coordcache implements the confidence-decaying UI coordinate
// cache.
//
// Keys are (view fingerprint, app id, optional app version); values are
// screen coordinates for accessibility elements with success/failure
// counters. Confidence decays with age and is recomputed on every read
// — a coordinate that stops working is deleted on the failure that
// pushes it under the threshold, and a cache that misses too often
// disables itself for the rest of the process.
//
// The cache is opt-in (disabled by default): a wrong cached coordinate
// is worse than no cache at all.
package coordcache

import (
	"crypto/sha256"
	"encoding/hex"
	"log"
	"sync"
	"time"
)

// Bounds is the optional element frame captured alongside a coordinate.
type Bounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Coordinate is one cached tap target within a view.
type Coordinate struct {
	ElementID    string    `json:"element_id"`
	ElementType  string    `json:"element_type"`
	X            float64   `json:"x"`
	Y            float64   `json:"y"`
	Bounds       *Bounds   `json:"bounds,omitempty"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
}

// Confidence returns the age-decayed confidence at the given time:
// success ratio scaled by a linear decay factor that reaches zero at
// maxAge. Decay is never stored — it is recomputed on every access
// from the entry's age.
func (c *Coordinate) Confidence(now time.Time, maxAge time.Duration) float64 {
	total := c.SuccessCount + c.FailureCount
	if total == 0 {
		return 0
	}
	ratio := float64(c.SuccessCount) / float64(total)

	if maxAge <= 0 {
		return ratio
	}
	age := now.Sub(c.CreatedAt)
	decay := 1 - float64(age)/float64(maxAge)
	if decay < 0 {
		decay = 0
	}
	return ratio * decay
}

// viewMapping owns all cached coordinates for one screen of one app.
type viewMapping struct {
	Key            string                 `json:"key"`
	Coordinates    map[string]*Coordinate `json:"-"`
	CreatedAt      time.Time              `json:"created_at"`
	LastAccessedAt time.Time              `json:"last_accessed_at"`
	HitCount       int                    `json:"hit_count"`
}

// Config holds coordinate cache tuning.
type Config struct {
	// Enabled gates the whole cache. Default false — opt-in only.
	Enabled bool
	// MaxAge is the age at which confidence decays to zero.
	MaxAge time.Duration
	// MinConfidence is the lookup threshold. Comparison is strict:
	// an entry at exactly MinConfidence is still served.
	MinConfidence float64
	// MaxCoordinatesPerView caps entries per view mapping.
	MaxCoordinatesPerView int
	// MaxCachedViews caps the number of view mappings.
	MaxCachedViews int
	// AutoDisableThreshold is the hit rate under which the cache turns
	// itself off once AutoDisableMinQueries lookups have been observed.
	AutoDisableThreshold float64
	// AutoDisableMinQueries is the sample size required before the
	// circuit breaker may trip.
	AutoDisableMinQueries int
}

// DefaultConfig returns the default coordinate cache configuration.
// Enabled stays false; the server only flips it on explicit opt-in.
func DefaultConfig() Config {
	return Config{
		Enabled:               false,
		MaxAge:                30 * time.Minute,
		MinConfidence:         0.6,
		MaxCoordinatesPerView: 50,
		MaxCachedViews:        20,
		AutoDisableThreshold:  0.3,
		AutoDisableMinQueries: 100,
	}
}

// Stats is the observability snapshot surfaced by the cache_stats tool.
type Stats struct {
	Enabled      bool    `json:"enabled"`
	AutoDisabled bool    `json:"auto_disabled"`
	Views        int     `json:"views"`
	Coordinates  int     `json:"coordinates"`
	TotalQueries int     `json:"total_queries"`
	TotalHits    int     `json:"total_hits"`
	HitRate      float64 `json:"hit_rate"`
}

// Cache maps view fingerprints to coordinate mappings.
// Safe for concurrent use by multiple tool handlers.
type Cache struct {
	mu           sync.Mutex
	cfg          Config
	enabled      bool
	autoDisabled bool
	views        map[string]*viewMapping
	totalQueries int
	totalHits    int
	now          func() time.Time
}

// New creates a coordinate cache with the given configuration.
func New(cfg Config) *Cache {
	def := DefaultConfig()
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.MaxCoordinatesPerView <= 0 {
		cfg.MaxCoordinatesPerView = def.MaxCoordinatesPerView
	}
	if cfg.MaxCachedViews <= 0 {
		cfg.MaxCachedViews = def.MaxCachedViews
	}
	if cfg.AutoDisableThreshold <= 0 {
		cfg.AutoDisableThreshold = def.AutoDisableThreshold
	}
	if cfg.AutoDisableMinQueries <= 0 {
		cfg.AutoDisableMinQueries = def.AutoDisableMinQueries
	}
	return &Cache{
		cfg:     cfg,
		enabled: cfg.Enabled,
		views:   make(map[string]*viewMapping),
		now:     time.Now,
	}
}

// SetNowFunc overrides the time source so decay tests are deterministic.
func (c *Cache) SetNowFunc(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Enabled reports whether lookups are currently served.
func (c *Cache) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// CacheKey derives the view mapping key from the fingerprint, app id,
// and optional app version.
func CacheKey(fingerprint, appID, appVersion string) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	h.Write([]byte(appID))
	if appVersion != "" {
		h.Write([]byte{0})
		h.Write([]byte(appVersion))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Lookup returns the cached coordinate for an element, or false on miss.
//
// A disabled cache misses immediately without counting the query.
// Otherwise the query counts toward the circuit breaker sample, decayed
// confidence is computed at read time, and entries under MinConfidence
// (strict comparison) miss. A hit refreshes the entry's LastUsedAt and
// the view's LastAccessedAt/HitCount.
func (c *Cache) Lookup(fingerprint, appID, elementID, appVersion string) (Coordinate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return Coordinate{}, false
	}

	c.totalQueries++
	// Deferred after Unlock so it runs first, still under the lock.
	defer c.maybeAutoDisable()

	view, ok := c.views[CacheKey(fingerprint, appID, appVersion)]
	if !ok {
		return Coordinate{}, false
	}
	coord, ok := view.Coordinates[elementID]
	if !ok {
		return Coordinate{}, false
	}

	now := c.now()
	if coord.Confidence(now, c.cfg.MaxAge) < c.cfg.MinConfidence {
		return Coordinate{}, false
	}

	c.totalHits++
	coord.LastUsedAt = now
	view.LastAccessedAt = now
	view.HitCount++
	return *coord, true
}

// PutParams holds the input for caching a coordinate.
type PutParams struct {
	Fingerprint string
	AppID       string
	AppVersion  string
	ElementID   string
	ElementType string
	X, Y        float64
	Bounds      *Bounds
}

// Put creates or updates a coordinate entry. New entries start at
// confidence 1.0 (one success, no failures); a repeat store for the
// same element counts as another success and refreshes the position.
// Decay applies only at read time, never at write time.
//
// Insertion enforces both LRU caps: the least-recently-used coordinate
// in a full view, and the least-recently-accessed view in a full cache,
// are evicted before the new entry goes in.
func (c *Cache) Put(p PutParams) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}

	now := c.now()
	key := CacheKey(p.Fingerprint, p.AppID, p.AppVersion)

	view, ok := c.views[key]
	if !ok {
		if len(c.views) >= c.cfg.MaxCachedViews {
			c.evictLRUView()
		}
		view = &viewMapping{
			Key:            key,
			Coordinates:    make(map[string]*Coordinate),
			CreatedAt:      now,
			LastAccessedAt: now,
		}
		c.views[key] = view
	}

	if coord, ok := view.Coordinates[p.ElementID]; ok {
		coord.X = p.X
		coord.Y = p.Y
		coord.ElementType = p.ElementType
		coord.Bounds = p.Bounds
		coord.SuccessCount++
		coord.LastUsedAt = now
		view.LastAccessedAt = now
		return
	}

	if len(view.Coordinates) >= c.cfg.MaxCoordinatesPerView {
		evictLRUCoordinate(view)
	}
	view.Coordinates[p.ElementID] = &Coordinate{
		ElementID:    p.ElementID,
		ElementType:  p.ElementType,
		X:            p.X,
		Y:            p.Y,
		Bounds:       p.Bounds,
		SuccessCount: 1,
		CreatedAt:    now,
		LastUsedAt:   now,
	}
	view.LastAccessedAt = now
}

// RecordSuccess counts a successful use of a cached coordinate.
func (c *Cache) RecordSuccess(fingerprint, appID, elementID, appVersion string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	coord, view := c.find(fingerprint, appID, elementID, appVersion)
	if coord == nil {
		return
	}
	now := c.now()
	coord.SuccessCount++
	coord.LastUsedAt = now
	view.LastAccessedAt = now
}

// Invalidate counts a failed use. If the recomputed confidence falls
// under MinConfidence (strict comparison) the entry is deleted
// immediately — stale coordinates must not linger.
func (c *Cache) Invalidate(fingerprint, appID, elementID, appVersion string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	coord, view := c.find(fingerprint, appID, elementID, appVersion)
	if coord == nil {
		return
	}
	coord.FailureCount++
	if coord.Confidence(c.now(), c.cfg.MaxAge) < c.cfg.MinConfidence {
		delete(view.Coordinates, coord.ElementID)
		if len(view.Coordinates) == 0 {
			delete(c.views, view.Key)
		}
	}
}

// Stats returns the observability snapshot.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	coords := 0
	for _, v := range c.views {
		coords += len(v.Coordinates)
	}
	s := Stats{
		Enabled:      c.enabled,
		AutoDisabled: c.autoDisabled,
		Views:        len(c.views),
		Coordinates:  coords,
		TotalQueries: c.totalQueries,
		TotalHits:    c.totalHits,
	}
	if c.totalQueries > 0 {
		s.HitRate = float64(c.totalHits) / float64(c.totalQueries)
	}
	return s
}

// find locates a live entry without touching counters or recency.
// Callers hold c.mu.
func (c *Cache) find(fingerprint, appID, elementID, appVersion string) (*Coordinate, *viewMapping) {
	view, ok := c.views[CacheKey(fingerprint, appID, appVersion)]
	if !ok {
		return nil, nil
	}
	coord, ok := view.Coordinates[elementID]
	if !ok {
		return nil, nil
	}
	return coord, view
}

// maybeAutoDisable trips the circuit breaker: once the query sample is
// large enough and the hit rate is under the threshold, the cache turns
// itself off for the remainder of the process. There is no auto
// re-enable — a cache that has proven net-negative stays off until
// restart. Callers hold c.mu.
func (c *Cache) maybeAutoDisable() {
	if !c.enabled || c.totalQueries < c.cfg.AutoDisableMinQueries {
		return
	}
	hitRate := float64(c.totalHits) / float64(c.totalQueries)
	if hitRate < c.cfg.AutoDisableThreshold {
		c.enabled = false
		c.autoDisabled = true
		log.Printf("WARNING: coordinate cache auto-disabled: hit rate %.2f below threshold %.2f after %d queries",
			hitRate, c.cfg.AutoDisableThreshold, c.totalQueries)
	}
}

// evictLRUView removes the view with the oldest LastAccessedAt.
// Ties break on key so the victim is deterministic.
func (c *Cache) evictLRUView() {
	var victim string
	var victimAt time.Time
	for key, v := range c.views {
		if victim == "" || v.LastAccessedAt.Before(victimAt) ||
			(v.LastAccessedAt.Equal(victimAt) && key < victim) {
			victim = key
			victimAt = v.LastAccessedAt
		}
	}
	if victim != "" {
		delete(c.views, victim)
	}
}

// evictLRUCoordinate removes the entry with the oldest LastUsedAt from
// a view. Ties break on element id.
func evictLRUCoordinate(view *viewMapping) {
	var victim string
	var victimAt time.Time
	for id, coord := range view.Coordinates {
		if victim == "" || coord.LastUsedAt.Before(victimAt) ||
			(coord.LastUsedAt.Equal(victimAt) && id < victim) {
			victim = id
			victimAt = coord.LastUsedAt
		}
	}
	if victim != "" {
		delete(view.Coordinates, victim)
	}
}
