package source

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oddsgrid/oddsgrid/internal/breaker"
	"github.com/oddsgrid/oddsgrid/internal/config"
	"github.com/oddsgrid/oddsgrid/internal/engine"
	"github.com/oddsgrid/oddsgrid/internal/heal"
	"github.com/oddsgrid/oddsgrid/internal/pace"
	"github.com/oddsgrid/oddsgrid/internal/store"
)

// FetchContext carries the race-day context a fetch is made for, used
// by the healer to synthesize substitute URLs.
type FetchContext struct {
	Date       string // YYYY-MM-DD
	Venue      string
	RaceNumber int
	// Headers are extra request headers, already env-expanded.
	Headers map[string]string
}

// Client is the guarded fetch pipeline every adapter runs through:
// rate limiter → circuit breaker gate → multi-engine fetch → on
// not-found, link healing and one refetch of the healed URL.
//
// Per-source breaker and limiter state is private to that source, so
// no cross-source locking happens on the fetch path.
type Client struct {
	fetcher *engine.Fetcher
	healer  *heal.Healer
	ledger  *store.Store // optional persistent healing ledger
	logger  *slog.Logger

	breakerCfg config.BreakerConfig
	paceCfg    config.PaceConfig

	mu       sync.Mutex
	breakers map[string]*breaker.Breaker
	limiters map[string]*pace.Limiter
}

// NewClient creates a Client. healer and ledger may be nil.
func NewClient(fetcher *engine.Fetcher, healer *heal.Healer, ledger *store.Store,
	breakerCfg config.BreakerConfig, paceCfg config.PaceConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		fetcher:    fetcher,
		healer:     healer,
		ledger:     ledger,
		logger:     logger,
		breakerCfg: breakerCfg,
		paceCfg:    paceCfg,
		breakers:   make(map[string]*breaker.Breaker),
		limiters:   make(map[string]*pace.Limiter),
	}
}

// Breaker returns (creating if needed) the breaker for a source.
func (c *Client) Breaker(source string) *breaker.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[source]
	if !ok {
		var opts []breaker.Option
		if c.breakerCfg.FailureThreshold > 0 {
			opts = append(opts, breaker.WithThreshold(c.breakerCfg.FailureThreshold))
		}
		if c.breakerCfg.ResetTimeout > 0 {
			opts = append(opts, breaker.WithResetTimeout(c.breakerCfg.ResetTimeout))
		}
		b = breaker.New(opts...)
		c.breakers[source] = b
	}
	return b
}

// Limiter returns (creating if needed) the limiter for a source.
func (c *Client) Limiter(src *config.SourceConfig) *pace.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[src.Name]
	if !ok {
		cfg := pace.Config{
			RequestsPerSecond: c.paceCfg.RequestsPerSecond,
			MaxDelay:          c.paceCfg.MaxDelay,
			GrowthFactor:      c.paceCfg.GrowthFactor,
			DecayFactor:       c.paceCfg.DecayFactor,
			Window:            c.paceCfg.Window,
		}
		if src.RequestsPerSecond > 0 {
			cfg.RequestsPerSecond = src.RequestsPerSecond
		}
		l = pace.New(cfg)
		c.limiters[src.Name] = l
	}
	return l
}

// Health exposes the underlying engine health registry.
func (c *Client) Health() *engine.HealthTracker { return c.fetcher.Health() }

// Fetch runs one guarded fetch for a source. Returns the body, the URL
// actually attempted (the healed one when healing kicked in), and an
// error. While the source's circuit is open the fetch is rejected
// immediately with *breaker.ErrCircuitOpen, consuming no budget.
func (c *Client) Fetch(ctx context.Context, src *config.SourceConfig, url string, fctx FetchContext) ([]byte, string, error) {
	br := c.Breaker(src.Name)
	if !br.Allow() {
		return nil, url, &breaker.ErrCircuitOpen{Source: src.Name, Until: br.RetryAt()}
	}

	lim := c.Limiter(src)
	if err := lim.Acquire(ctx); err != nil {
		return nil, url, err
	}

	opts := engine.Options{Source: src.Name, Transport: src.Transport, Headers: fctx.Headers}
	body, err := c.fetcher.Fetch(ctx, url, opts)
	if err == nil {
		lim.RecordSuccess()
		return body, url, nil
	}

	cls := engine.Classify(err)
	if cls == engine.ClassRateLimit {
		lim.RecordError()
	}

	if cls != engine.ClassNotFound || c.healer == nil {
		return nil, url, err
	}

	// Not-found class: the URL itself is broken. Try to heal it and
	// refetch the verified substitute once.
	res, healErr := c.healer.Heal(ctx, &heal.Request{
		Source:     src,
		URL:        url,
		Venue:      fctx.Venue,
		Date:       fctx.Date,
		RaceNumber: fctx.RaceNumber,
	})
	c.persistHealing(ctx, src.Name, res)
	if healErr != nil {
		return nil, url, healErr
	}

	c.logger.Info("refetching healed url",
		"source", src.Name, "strategy", res.Strategy, "url", res.URL)

	body, err = c.fetcher.Fetch(ctx, res.URL, opts)
	if err != nil {
		return nil, res.URL, err
	}
	lim.RecordSuccess()
	return body, res.URL, nil
}

// Report feeds one source's cycle outcome into its breaker. Limiter
// feedback happens on the fetch path, where the error class is known,
// so a rate-limited cycle is not penalized twice.
func (c *Client) Report(src *config.SourceConfig, success bool) {
	br := c.Breaker(src.Name)
	if success {
		br.RecordSuccess()
		return
	}
	br.RecordFailure()
}

// persistHealing mirrors the in-memory healing report into the SQLite
// ledger when one is configured.
func (c *Client) persistHealing(ctx context.Context, source string, res *heal.Result) {
	if c.ledger == nil {
		return
	}
	strategy, candidate, ok := "", "", false
	if res != nil {
		strategy, candidate, ok = res.Strategy, res.URL, true
	}
	if err := c.ledger.AppendHealing(ctx, source, strategy, candidate, ok, 0); err != nil {
		c.logger.Warn("healing ledger append failed", "source", source, "error", err)
	}
}
