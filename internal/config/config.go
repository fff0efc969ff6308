// Package config loads and persists xcpilot's server configuration.
//
// Configuration lives at ~/.xcpilot/config.json. A missing file means
// defaults; a malformed file logs a warning and falls back to defaults
// so a bad edit never keeps the server from starting.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// ConfigFile is the filename under the data directory.
const ConfigFile = "config.json"

// Config holds all server tuning knobs.
type Config struct {
	// DataDir is where the config file and the SQLite cache state live.
	// Not serialized; resolved at load time from the environment.
	DataDir string `json:"-"`

	// PersistenceEnabled controls whether cache state survives restarts.
	PersistenceEnabled bool `json:"persistence_enabled"`

	// ResponseCacheMaxEntries caps the stored full outputs.
	ResponseCacheMaxEntries int `json:"response_cache_max_entries"`
	// ResponseCacheMaxAge is how long a stored output stays retrievable.
	ResponseCacheMaxAge Duration `json:"response_cache_max_age"`

	// CoordinateCache tunes the UI coordinate cache. Disabled by
	// default: coordinate reuse is an accuracy/speed trade the user
	// must opt into.
	CoordinateCache CoordinateCacheConfig `json:"coordinate_cache"`

	// SimulatorBootTimeout caps how long sim_boot waits for the device
	// to reach the booted state.
	SimulatorBootTimeout Duration `json:"simulator_boot_timeout"`
	// SimulatorPollInterval is the delay between boot-state rechecks.
	SimulatorPollInterval Duration `json:"simulator_poll_interval"`
}

// CoordinateCacheConfig mirrors coordcache.Config in serializable form.
type CoordinateCacheConfig struct {
	Enabled               bool     `json:"enabled"`
	MaxAge                Duration `json:"max_age"`
	MinConfidence         float64  `json:"min_confidence"`
	MaxCoordinatesPerView int      `json:"max_coordinates_per_view"`
	MaxCachedViews        int      `json:"max_cached_views"`
	AutoDisableThreshold  float64  `json:"auto_disable_threshold"`
	AutoDisableMinQueries int      `json:"auto_disable_min_queries"`
}

// Duration is a time.Duration that serializes as a string ("30m", "1h").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30m\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PersistenceEnabled:      true,
		ResponseCacheMaxEntries: 50,
		ResponseCacheMaxAge:     Duration(time.Hour),
		CoordinateCache: CoordinateCacheConfig{
			Enabled:               false,
			MaxAge:                Duration(30 * time.Minute),
			MinConfidence:         0.6,
			MaxCoordinatesPerView: 50,
			MaxCachedViews:        20,
			AutoDisableThreshold:  0.3,
			AutoDisableMinQueries: 100,
		},
		SimulatorBootTimeout:  Duration(5 * time.Minute),
		SimulatorPollInterval: Duration(2 * time.Second),
	}
}

// DataDir resolves the data directory: $XCPILOT_DATA_DIR if set,
// otherwise ~/.xcpilot.
func DataDir() string {
	if dir := os.Getenv("XCPILOT_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// No home directory: fall back to the working directory so the
		// server still comes up.
		return ".xcpilot"
	}
	return filepath.Join(home, ".xcpilot")
}

// Load reads the configuration from dataDir. A missing file returns
// defaults silently; a malformed file logs a warning and returns
// defaults.
func Load(dataDir string) Config {
	cfg := Default()
	cfg.DataDir = dataDir

	path := filepath.Join(dataDir, ConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("WARNING: could not read %s, using defaults: %v", path, err)
		}
		return cfg
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Printf("WARNING: malformed %s, using defaults: %v", path, err)
		cfg = Default()
	}
	cfg.DataDir = dataDir
	return cfg
}

// Save writes the configuration to dataDir, creating it if needed.
func Save(cfg Config, dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	path := filepath.Join(dataDir, ConfigFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
