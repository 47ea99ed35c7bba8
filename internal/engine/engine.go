// Package engine implements multi-transport fetching with health-based
// failover.
//
// A Fetcher holds an ordered set of transport engines (plain HTTP,
// headless Chrome, stealth Chrome) and a per-(source, engine) health
// registry. Each fetch walks the engines in descending health order,
// retrying each with exponential backoff, until one returns content or
// everything is exhausted.
package engine

import (
	"context"
	"log/slog"
	"time"
)

// Transport is one fetch transport: bytes for a URL. headers may be
// nil; engines that render rather than request ignore them.
// Engines hold their own sessions; Close releases them.
type Transport interface {
	Name() string
	Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error)
	Close() error
}

// Config configures a Fetcher.
type Config struct {
	Timeout     time.Duration // per engine attempt. Default: 30s.
	Retries     int           // internal retries per engine. Default: 2.
	BackoffBase time.Duration // doubled each retry. Default: 500ms.
	Logger      *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 2
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Options applies per-fetch request options.
type Options struct {
	// Source is the source name for health bookkeeping. Empty means
	// health is tracked under a shared anonymous key.
	Source string
	// Transport, when non-empty and not "auto", puts the named engine
	// first regardless of health. The rest still serve as failover.
	Transport string
	// Headers are extra request headers, e.g. API keys.
	Headers map[string]string
}

// Fetcher selects among transport engines by health and fails over.
type Fetcher struct {
	engines []Transport
	health  *HealthTracker
	config  Config
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Fetcher. Engines are attempted in descending health
// order per source; the given order only breaks ties at full health.
func New(cfg Config, health *HealthTracker, engines ...Transport) *Fetcher {
	cfg.defaults()
	if health == nil {
		health = NewHealthTracker(0, 0)
	}
	return &Fetcher{
		engines: engines,
		health:  health,
		config:  cfg,
		sleep:   sleepCtx,
	}
}

// Health exposes the injected health registry.
func (f *Fetcher) Health() *HealthTracker { return f.health }

// Fetch returns raw content for a URL, trying engines in descending
// health order with per-engine retries. Every attempt outcome feeds
// the health registry. When everything is exhausted the returned error
// is *AllEnginesFailed carrying the last error per engine.
func (f *Fetcher) Fetch(ctx context.Context, url string, opts Options) ([]byte, error) {
	order := f.attemptOrder(opts)
	failures := make(map[string]error, len(order))

	for _, t := range order {
		body, err := f.tryEngine(ctx, t, url, opts)
		if err == nil {
			return body, nil
		}
		failures[t.Name()] = err

		if ctx.Err() != nil {
			break
		}
	}
	return nil, &AllEnginesFailed{URL: url, Errors: failures}
}

// tryEngine runs one engine with its internal retry budget.
func (f *Fetcher) tryEngine(ctx context.Context, t Transport, url string, opts Options) ([]byte, error) {
	log := f.config.Logger.With("engine", t.Name(), "source", opts.Source, "url", url)

	var lastErr error
	for attempt := 0; attempt <= f.config.Retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
		start := time.Now()
		body, err := t.Fetch(attemptCtx, url, opts.Headers)
		cancel()

		if err == nil {
			f.health.RecordSuccess(opts.Source, t.Name(), time.Since(start))
			return body, nil
		}
		lastErr = err
		f.health.RecordFailure(opts.Source, t.Name())

		// A broken URL is broken on every attempt; don't burn retries.
		if cls := Classify(err); cls == ClassNotFound || cls == ClassAuth {
			log.Debug("engine attempt failed, not retryable", "class", cls, "error", err)
			return nil, err
		}

		if ctx.Err() != nil {
			return nil, lastErr
		}

		if attempt < f.config.Retries {
			wait := f.config.BackoffBase * (1 << uint(attempt))
			log.Debug("engine attempt failed, backing off",
				"attempt", attempt+1, "backoff_ms", wait.Milliseconds(), "error", err)
			if err := f.sleep(ctx, wait); err != nil {
				return nil, lastErr
			}
		}
	}
	log.Warn("engine exhausted", "attempts", f.config.Retries+1, "error", lastErr)
	return nil, lastErr
}

// attemptOrder ranks engines by health for the source, with an
// explicit transport preference pinned first.
func (f *Fetcher) attemptOrder(opts Options) []Transport {
	names := make([]string, len(f.engines))
	byName := make(map[string]Transport, len(f.engines))
	for i, t := range f.engines {
		names[i] = t.Name()
		byName[t.Name()] = t
	}

	ranked := f.health.Rank(opts.Source, names)

	if opts.Transport != "" && opts.Transport != "auto" {
		if _, ok := byName[opts.Transport]; ok {
			reordered := []string{opts.Transport}
			for _, n := range ranked {
				if n != opts.Transport {
					reordered = append(reordered, n)
				}
			}
			ranked = reordered
		}
	}

	out := make([]Transport, 0, len(ranked))
	for _, n := range ranked {
		out = append(out, byName[n])
	}
	return out
}

// Close releases every engine's sessions.
func (f *Fetcher) Close() error {
	var firstErr error
	for _, t := range f.engines {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
