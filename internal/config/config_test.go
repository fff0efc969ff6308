package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// --- Defaults ---

func TestDefault_CoordinateCacheIsOptIn(t *testing.T) {
	cfg := Default()
	if cfg.CoordinateCache.Enabled {
		t.Error("coordinate cache must default to disabled")
	}
	if cfg.CoordinateCache.MinConfidence != 0.6 {
		t.Errorf("MinConfidence = %v, want 0.6", cfg.CoordinateCache.MinConfidence)
	}
	if cfg.CoordinateCache.MaxAge.Std() != 30*time.Minute {
		t.Errorf("MaxAge = %v, want 30m", cfg.CoordinateCache.MaxAge.Std())
	}
}

func TestDefault_ResponseCacheLimits(t *testing.T) {
	cfg := Default()
	if cfg.ResponseCacheMaxEntries != 50 {
		t.Errorf("ResponseCacheMaxEntries = %d, want 50", cfg.ResponseCacheMaxEntries)
	}
	if cfg.ResponseCacheMaxAge.Std() != time.Hour {
		t.Errorf("ResponseCacheMaxAge = %v, want 1h", cfg.ResponseCacheMaxAge.Std())
	}
	if !cfg.PersistenceEnabled {
		t.Error("persistence should default to enabled")
	}
}

// --- Load ---

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg := Load(t.TempDir())
	if cfg.ResponseCacheMaxEntries != 50 {
		t.Errorf("missing config should yield defaults, got %+v", cfg)
	}
}

func TestLoad_SetsDataDir(t *testing.T) {
	dir := t.TempDir()
	cfg := Load(dir)
	if cfg.DataDir != dir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, dir)
	}
}

func TestLoad_ReadsOverrides(t *testing.T) {
	dir := t.TempDir()
	raw := `{
		"response_cache_max_entries": 10,
		"response_cache_max_age": "15m",
		"coordinate_cache": {"enabled": true, "min_confidence": 0.8}
	}`
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Load(dir)
	if cfg.ResponseCacheMaxEntries != 10 {
		t.Errorf("ResponseCacheMaxEntries = %d, want 10", cfg.ResponseCacheMaxEntries)
	}
	if cfg.ResponseCacheMaxAge.Std() != 15*time.Minute {
		t.Errorf("ResponseCacheMaxAge = %v, want 15m", cfg.ResponseCacheMaxAge.Std())
	}
	if !cfg.CoordinateCache.Enabled {
		t.Error("coordinate cache should be enabled by the override")
	}
	if cfg.CoordinateCache.MinConfidence != 0.8 {
		t.Errorf("MinConfidence = %v, want 0.8", cfg.CoordinateCache.MinConfidence)
	}
}

func TestLoad_MalformedFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte("{nope"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := Load(dir)
	if cfg.ResponseCacheMaxEntries != 50 {
		t.Error("malformed config must fall back to defaults, not abort")
	}
}

// --- Save ---

func TestSave_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.ResponseCacheMaxEntries = 7
	cfg.SimulatorBootTimeout = Duration(90 * time.Second)

	if err := Save(cfg, dir); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	back := Load(dir)
	if back.ResponseCacheMaxEntries != 7 {
		t.Errorf("ResponseCacheMaxEntries = %d, want 7", back.ResponseCacheMaxEntries)
	}
	if back.SimulatorBootTimeout.Std() != 90*time.Second {
		t.Errorf("SimulatorBootTimeout = %v, want 90s", back.SimulatorBootTimeout.Std())
	}
}

// --- Duration ---

func TestDuration_SerializesAsString(t *testing.T) {
	data, err := json.Marshal(Duration(30 * time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"30m0s"` {
		t.Errorf("Duration JSON = %s, want \"30m0s\"", data)
	}
}

func TestDuration_RejectsBareNumbers(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`1800`), &d); err == nil {
		t.Error("bare numbers should be rejected; durations are strings")
	}
}

func TestDataDir_EnvOverride(t *testing.T) {
	t.Setenv("XCPILOT_DATA_DIR", "/tmp/xcpilot-test")
	if got := DataDir(); got != "/tmp/xcpilot-test" {
		t.Errorf("DataDir = %q, want env override", got)
	}
}
