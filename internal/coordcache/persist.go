package coordcache

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/appforge-labs/xcpilot/internal/persist"
)

// Namespace is where the coordinate cache stores its durable snapshot.
const Namespace = "coords/v1"

// The persisted snapshot is an array of {key, mapping} pairs, with each
// mapping's coordinates serialized as [elementId, coordinate] pairs
// (map → array → map round trip). Dates ride along as RFC 3339 strings
// via time.Time's JSON encoding.

type snapshot struct {
	Views []persistedView `json:"views"`
}

type persistedView struct {
	Key     string           `json:"key"`
	Mapping persistedMapping `json:"mapping"`
}

type persistedMapping struct {
	Coordinates    []coordPair `json:"coordinates"`
	CreatedAt      time.Time   `json:"created_at"`
	LastAccessedAt time.Time   `json:"last_accessed_at"`
	HitCount       int         `json:"hit_count"`
}

// coordPair serializes as a two-element JSON array [elementId, coordinate].
type coordPair struct {
	ElementID  string
	Coordinate Coordinate
}

func (p coordPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.ElementID, p.Coordinate})
}

func (p *coordPair) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("coordinate pair: %w", err)
	}
	if err := json.Unmarshal(raw[0], &p.ElementID); err != nil {
		return fmt.Errorf("coordinate pair element id: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Coordinate); err != nil {
		return fmt.Errorf("coordinate pair value: %w", err)
	}
	return nil
}

// SaveTo persists the full cache state through the durable store.
// Best-effort: failures are logged, never propagated.
func (c *Cache) SaveTo(store *persist.Store) {
	if store == nil || !store.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := snapshot{Views: make([]persistedView, 0, len(c.views))}
	for key, v := range c.views {
		pm := persistedMapping{
			Coordinates:    make([]coordPair, 0, len(v.Coordinates)),
			CreatedAt:      v.CreatedAt,
			LastAccessedAt: v.LastAccessedAt,
			HitCount:       v.HitCount,
		}
		for id, coord := range v.Coordinates {
			pm.Coordinates = append(pm.Coordinates, coordPair{ElementID: id, Coordinate: *coord})
		}
		snap.Views = append(snap.Views, persistedView{Key: key, Mapping: pm})
	}
	if err := store.SaveState(Namespace, snap); err != nil {
		log.Printf("WARNING: coordinate cache save failed: %v", err)
	}
}

// LoadFrom restores cache state from the durable store. Load failures
// never prevent startup — they log a warning and the cache starts empty.
func (c *Cache) LoadFrom(store *persist.Store) {
	if store == nil || !store.Enabled() {
		return
	}
	var snap snapshot
	found, err := store.LoadState(Namespace, &snap)
	if err != nil {
		log.Printf("WARNING: coordinate cache load failed, starting empty: %v", err)
		return
	}
	if !found {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pv := range snap.Views {
		if pv.Key == "" {
			continue
		}
		view := &viewMapping{
			Key:            pv.Key,
			Coordinates:    make(map[string]*Coordinate, len(pv.Mapping.Coordinates)),
			CreatedAt:      pv.Mapping.CreatedAt,
			LastAccessedAt: pv.Mapping.LastAccessedAt,
			HitCount:       pv.Mapping.HitCount,
		}
		for _, pair := range pv.Mapping.Coordinates {
			coord := pair.Coordinate
			coord.ElementID = pair.ElementID
			view.Coordinates[pair.ElementID] = &coord
		}
		c.views[pv.Key] = view
	}
}
