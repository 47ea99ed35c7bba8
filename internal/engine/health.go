package engine

import (
	"sort"
	"sync"
	"time"
)

// Health is the rolling state for one (source, engine) pair.
type Health struct {
	Score      float64       `json:"score"` // always within [0,1]
	Successes  int           `json:"successes"`
	Failures   int           `json:"failures"`
	AvgLatency time.Duration `json:"avg_latency"`
}

const (
	healthStart = 1.0
	healthFloor = 0.05 // failures never zero out a score, allowing recovery
)

// HealthTracker owns health scores per (source, engine) pair. It is an
// explicitly injected registry rather than an ambient singleton so
// tests and the status API can observe it.
// Thread-safe.
type HealthTracker struct {
	mu        sync.Mutex
	scores    map[string]map[string]*Health // source → engine → health
	increment float64                       // added on success
	decrement float64                       // subtracted on failure, larger than increment
}

// NewHealthTracker creates a tracker. Failures are penalized more than
// successes reward, biasing quickly away from flaky engines.
func NewHealthTracker(increment, decrement float64) *HealthTracker {
	if increment <= 0 {
		increment = 0.05
	}
	if decrement <= 0 {
		decrement = 0.15
	}
	return &HealthTracker{
		scores:    make(map[string]map[string]*Health),
		increment: increment,
		decrement: decrement,
	}
}

// RecordSuccess bumps the score for a (source, engine) pair, capped at 1.
func (t *HealthTracker) RecordSuccess(source, engine string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.get(source, engine)
	h.Successes++
	h.Score += t.increment
	if h.Score > 1 {
		h.Score = 1
	}
	h.AvgLatency += (latency - h.AvgLatency) / time.Duration(h.Successes)
}

// RecordFailure drops the score for a (source, engine) pair, floored
// above zero.
func (t *HealthTracker) RecordFailure(source, engine string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.get(source, engine)
	h.Failures++
	h.Score -= t.decrement
	if h.Score < healthFloor {
		h.Score = healthFloor
	}
}

// Score returns the current health for a (source, engine) pair.
// Unseen pairs start at full health.
func (t *HealthTracker) Score(source, engine string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(source, engine).Score
}

// Best returns the highest engine health for a source. Used by the
// aggregator to tier sources.
func (t *HealthTracker) Best(source string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	engines, ok := t.scores[source]
	if !ok || len(engines) == 0 {
		return healthStart
	}
	best := 0.0
	for _, h := range engines {
		if h.Score > best {
			best = h.Score
		}
	}
	return best
}

// Rank orders engine names by descending health for a source. Ties
// keep the given order, so registration order decides at full health.
func (t *HealthTracker) Rank(source string, engines []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ranked := make([]string, len(engines))
	copy(ranked, engines)
	sort.SliceStable(ranked, func(i, j int) bool {
		return t.get(source, ranked[i]).Score > t.get(source, ranked[j]).Score
	})
	return ranked
}

// Snapshot returns a copy of all health state, for the status API.
func (t *HealthTracker) Snapshot() map[string]map[string]Health {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]map[string]Health, len(t.scores))
	for source, engines := range t.scores {
		out[source] = make(map[string]Health, len(engines))
		for name, h := range engines {
			out[source][name] = *h
		}
	}
	return out
}

// get returns (creating if needed) the health record for a pair.
// Must be called with mu held.
func (t *HealthTracker) get(source, engine string) *Health {
	engines, ok := t.scores[source]
	if !ok {
		engines = make(map[string]*Health)
		t.scores[source] = engines
	}
	h, ok := engines[engine]
	if !ok {
		h = &Health{Score: healthStart}
		engines[engine] = h
	}
	return h
}
