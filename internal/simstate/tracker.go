// Package simstate tracks the lifecycle of simulators across tool
// calls: current state, an append-only transition history with timing,
// a cooperative per-device lock, and a coalesced wait for slow
// asynchronous state changes (boot can take minutes).
//
// The tracker is an observational ledger, not a validator: simctl is
// the source of truth and can report states the tracker didn't
// predict, so any state may follow any state.
package simstate

import (
	"context"
	"log"
	"sync"
	"time"
)

// State is a simulator lifecycle state.
type State string

// Simulator lifecycle states.
const (
	StateUnknown      State = "unknown"
	StateCreating     State = "creating"
	StateBooting      State = "booting"
	StateBooted       State = "booted"
	StateShuttingDown State = "shutting_down"
	StateShutdown     State = "shutdown"
	StateErasing      State = "erasing"
	StateErased       State = "erased"
)

// ParseState maps simctl state strings to a State. Unrecognized values
// come back as StateUnknown — the tracker records them anyway.
func ParseState(s string) State {
	switch State(s) {
	case StateCreating, StateBooting, StateBooted, StateShuttingDown,
		StateShutdown, StateErasing, StateErased:
		return State(s)
	}
	// simctl spells these differently in `list devices` output.
	switch s {
	case "Booted":
		return StateBooted
	case "Booting":
		return StateBooting
	case "Shutdown":
		return StateShutdown
	case "Shutting Down":
		return StateShuttingDown
	case "Creating":
		return StateCreating
	}
	return StateUnknown
}

// Transition is one recorded state change for a resource.
type Transition struct {
	From      State         `json:"from"`
	To        State         `json:"to"`
	Operation string        `json:"operation"`
	At        time.Time     `json:"at"`
	SincePrev time.Duration `json:"since_prev"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// ProbeFunc refreshes a resource's state from the external tool.
// Wired to `simctl list devices` in production; tests inject fakes.
type ProbeFunc func(resourceID string) (State, error)

// Config holds tracker tuning.
type Config struct {
	// PollInterval is the delay between converge-wait rechecks.
	PollInterval time.Duration
	// WaitCeiling is the hard cap on any converge wait.
	WaitCeiling time.Duration
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval: 2 * time.Second,
		WaitCeiling:  5 * time.Minute,
	}
}

// resourceRecord is the per-resource ledger.
type resourceRecord struct {
	state   State
	history []Transition
	locked  bool
	// waits holds the shared converge-wait handle per target state,
	// so concurrent callers coalesce onto one poll loop.
	waits map[State]*convergeWait
}

type convergeWait struct {
	done      chan struct{}
	converged bool
}

// Tracker tracks lifecycle state for all known resources.
// Safe for concurrent use by multiple tool handlers.
type Tracker struct {
	mu        sync.Mutex
	cfg       Config
	resources map[string]*resourceRecord
	probe     ProbeFunc
	now       func() time.Time
}

// New creates a tracker with the given configuration.
func New(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.WaitCeiling <= 0 {
		cfg.WaitCeiling = def.WaitCeiling
	}
	return &Tracker{
		cfg:       cfg,
		resources: make(map[string]*resourceRecord),
		now:       time.Now,
	}
}

// SetProbe installs the state-refresh function used by converge waits.
func (t *Tracker) SetProbe(probe ProbeFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.probe = probe
}

// SetNowFunc overrides the time source for tests.
func (t *Tracker) SetNowFunc(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Current returns the last recorded state for a resource.
// Resources never seen before are StateUnknown.
func (t *Tracker) Current(resourceID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.resources[resourceID]
	if !ok {
		return StateUnknown
	}
	return rec.state
}

// RecordTransition appends a transition to the resource's history and
// sets its current state. SincePrev is computed from the previous
// entry's timestamp, so timing analytics come free with the ledger.
// Any outstanding converge wait for the new state resolves immediately.
func (t *Tracker) RecordTransition(resourceID string, from, to State, operation string, success bool, opErr error) Transition {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.record(resourceID)
	now := t.now()

	tr := Transition{
		From:      from,
		To:        to,
		Operation: operation,
		At:        now,
		Success:   success,
	}
	if opErr != nil {
		tr.Error = opErr.Error()
	}
	if n := len(rec.history); n > 0 {
		tr.SincePrev = now.Sub(rec.history[n-1].At)
	}

	rec.history = append(rec.history, tr)
	rec.state = to
	t.resolveWaitsLocked(rec, to, true)
	return tr
}

// Snapshot returns the current state of every tracked resource.
func (t *Tracker) Snapshot() map[string]State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]State, len(t.resources))
	for id, rec := range t.resources {
		out[id] = rec.state
	}
	return out
}

// History returns a copy of the resource's transition history in
// event order.
func (t *Tracker) History(resourceID string) []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.resources[resourceID]
	if !ok {
		return nil
	}
	out := make([]Transition, len(rec.history))
	copy(out, rec.history)
	return out
}

// AcquireLock takes the resource's structural-operation lock.
// Non-reentrant and non-blocking: a second acquire while held returns
// false, leaving backpressure decisions to the caller.
func (t *Tracker) AcquireLock(resourceID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.record(resourceID)
	if rec.locked {
		return false
	}
	rec.locked = true
	return true
}

// ReleaseLock releases the resource's lock. Releasing an unheld lock
// is a no-op.
func (t *Tracker) ReleaseLock(resourceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.resources[resourceID]; ok {
		rec.locked = false
	}
}

// Locked reports whether the resource's lock is currently held.
func (t *Tracker) Locked(resourceID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.resources[resourceID]
	return ok && rec.locked
}

// WaitUntil blocks until the resource reaches the target state, the
// wait ceiling elapses, or ctx is canceled. It returns true when the
// target state was reached.
//
// Concurrent callers waiting on the same (resource, target) share one
// underlying poll loop and observe the same resolution. A ceiling
// timeout resolves with false rather than failing: callers treat
// "gave up waiting" as "assume ready and let the next real operation
// fail fast if wrong".
func (t *Tracker) WaitUntil(ctx context.Context, resourceID string, target State) bool {
	t.mu.Lock()
	rec := t.record(resourceID)
	if rec.state == target {
		t.mu.Unlock()
		return true
	}
	if rec.waits == nil {
		rec.waits = make(map[State]*convergeWait)
	}
	w, ok := rec.waits[target]
	if !ok {
		w = &convergeWait{done: make(chan struct{})}
		rec.waits[target] = w
		go t.pollUntil(resourceID, target, w)
	}
	t.mu.Unlock()

	select {
	case <-w.done:
		return w.converged
	case <-ctx.Done():
		return false
	}
}

// pollUntil is the single shared poll loop behind WaitUntil.
func (t *Tracker) pollUntil(resourceID string, target State, w *convergeWait) {
	deadline := time.NewTimer(t.cfg.WaitCeiling)
	defer deadline.Stop()
	tick := time.NewTicker(t.cfg.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			t.mu.Lock()
			probe := t.probe
			t.mu.Unlock()

			if probe != nil {
				state, err := probe(resourceID)
				if err == nil && state != t.Current(resourceID) {
					t.RecordTransition(resourceID, t.Current(resourceID), state, "poll", true, nil)
				}
			}

			t.mu.Lock()
			rec := t.record(resourceID)
			if rec.state == target {
				t.resolveWaitsLocked(rec, target, true)
				t.mu.Unlock()
				return
			}
			// RecordTransition from another goroutine may already have
			// resolved this wait.
			if _, live := rec.waits[target]; !live {
				t.mu.Unlock()
				return
			}
			t.mu.Unlock()

		case <-deadline.C:
			log.Printf("WARNING: gave up waiting for %s to reach %s after %s; assuming ready",
				resourceID, target, t.cfg.WaitCeiling)
			t.mu.Lock()
			rec := t.record(resourceID)
			t.resolveWaitsLocked(rec, target, false)
			t.mu.Unlock()
			return
		}
	}
}

// resolveWaitsLocked resolves the outstanding wait for target, if any.
// Callers must hold t.mu.
func (t *Tracker) resolveWaitsLocked(rec *resourceRecord, target State, converged bool) {
	w, ok := rec.waits[target]
	if !ok {
		return
	}
	delete(rec.waits, target)
	w.converged = converged
	close(w.done)
}

// record returns the ledger for resourceID, creating it on first use.
// Callers must hold t.mu.
func (t *Tracker) record(resourceID string) *resourceRecord {
	rec, ok := t.resources[resourceID]
	if !ok {
		rec = &resourceRecord{state: StateUnknown}
		t.resources[resourceID] = rec
	}
	return rec
}
