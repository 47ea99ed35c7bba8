// Package source defines the per-source adapter contract and the
// guarded fetch pipeline adapters run through.
//
// An Adapter owns one source's transport preference and parsing. The
// aggregation engine only ever sees the contract, so hand-written
// adapters for awkward sources and the config-driven GenericAdapter
// coexist in the same registry.
package source

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oddsgrid/oddsgrid/racing"
)

// Outcome is one source's contribution to a cycle.
type Outcome struct {
	Source   string
	Races    []*racing.Race
	Info     racing.SourceInfo
	Duration time.Duration
}

// Adapter is the per-source capability contract.
type Adapter interface {
	Name() string
	// ConfigureTransport returns the preferred transport engine name
	// ("http", "browser", "stealth") or "auto".
	ConfigureTransport() string
	// Parse converts raw fetched content into normalized races.
	Parse(raw []byte) ([]*racing.Race, error)
	// FetchAndParse runs the full per-source pipeline for a date.
	// It never panics and never returns an error: failures are
	// reported through Outcome.Info.
	FetchAndParse(ctx context.Context, date string) Outcome
}

// Registry is a name-indexed set of adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	r.adapters[a.Name()] = a
	r.mu.Unlock()
}

// Get returns the adapter for a source name, or nil.
func (r *Registry) Get(name string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[name]
}

// All returns every adapter, sorted by name for deterministic
// iteration.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
