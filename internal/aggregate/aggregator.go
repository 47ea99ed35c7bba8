// Package aggregate runs the per-date aggregation cycle: concurrent
// fetches across all registered sources, tiered fallback when healthy
// sources cannot cover the card, dedup and odds merging, and a
// persistent cache of the last good result per date.
package aggregate

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/oddsgrid/oddsgrid/internal/breaker"
	"github.com/oddsgrid/oddsgrid/internal/config"
	"github.com/oddsgrid/oddsgrid/internal/source"
	"github.com/oddsgrid/oddsgrid/racing"
)

// Aggregator produces one AggregatedResult per cycle.
type Aggregator struct {
	cfg      config.AggregateConfig
	client   *source.Client
	registry *source.Registry
	sources  map[string]*config.SourceConfig
	cache    *Cache // optional
	logger   *slog.Logger
}

// New creates an Aggregator. cache may be nil, which disables the
// stale-result fallback tier.
func New(cfg config.AggregateConfig, client *source.Client, registry *source.Registry,
	sources []config.SourceConfig, cache *Cache, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]*config.SourceConfig, len(sources))
	for i := range sources {
		byName[sources[i].Name] = &sources[i]
	}
	return &Aggregator{
		cfg:      cfg,
		client:   client,
		registry: registry,
		sources:  byName,
		cache:    cache,
		logger:   logger,
	}
}

// Run executes one aggregation cycle for a date (YYYY-MM-DD).
//
// Healthy sources are queried first, concurrently. Degraded sources
// are consulted only when the healthy tier's coverage falls short,
// and their contributions are marked as such. When nothing at all
// comes back, the last cached result for the date is served flagged
// stale. The cycle never fails outright on source errors; the one
// error Run returns beyond cache plumbing is *AggregationTimeout,
// and even then the partial result accompanies it.
func (a *Aggregator) Run(ctx context.Context, date string) (*racing.AggregatedResult, error) {
	cycleCtx, cancel := context.WithTimeout(ctx, a.cfg.CycleDeadline)
	defer cancel()

	adapters := a.registry.All()
	healthy, degraded := a.partition(adapters)
	a.logger.Info("cycle start", "date", date,
		"healthy", len(healthy), "degraded", len(degraded))

	col := newCollector(adapters)
	a.fanOut(cycleCtx, col, healthy, false, date)

	if cov := col.coverage(); cov < a.cfg.MinCoverage && len(degraded) > 0 {
		a.logger.Warn("coverage below minimum, consulting degraded sources",
			"date", date, "coverage", cov, "min", a.cfg.MinCoverage)
		a.fanOut(cycleCtx, col, degraded, true, date)
	}

	timedOut := cycleCtx.Err() != nil
	result, completed := col.finalize(date)

	if len(result.Races) == 0 && a.cache != nil {
		if cached, err := a.cache.Load(ctx, date); err == nil {
			a.logger.Warn("all sources empty, serving cached result",
				"date", date, "cached_at", cached.CachedAt)
			cached.Stale = true
			cached.SourceInfo = result.SourceInfo
			return cached, a.timeoutErr(timedOut, date, completed, len(adapters))
		}
	}

	if len(result.Races) > 0 && a.cache != nil {
		if err := a.cache.Save(ctx, result); err != nil {
			a.logger.Warn("result cache save failed", "date", date, "error", err)
		}
	}

	a.logger.Info("cycle done", "date", date,
		"races", len(result.Races), "sources_completed", completed, "timed_out", timedOut)
	return result, a.timeoutErr(timedOut, date, completed, len(adapters))
}

func (a *Aggregator) timeoutErr(timedOut bool, date string, completed, total int) error {
	if !timedOut {
		return nil
	}
	return &AggregationTimeout{Date: date, Completed: completed, Total: total}
}

// partition splits adapters into the healthy tier (circuit closed and
// best engine health at or above the threshold) and the degraded rest.
// Unseen sources start at full health and land in the healthy tier.
func (a *Aggregator) partition(adapters []source.Adapter) (healthy, degraded []source.Adapter) {
	for _, ad := range adapters {
		name := ad.Name()
		closed := a.client.Breaker(name).State() == breaker.Closed
		score := a.client.Health().Best(name)
		if closed && score >= a.cfg.HealthThreshold {
			healthy = append(healthy, ad)
		} else {
			degraded = append(degraded, ad)
		}
	}
	return healthy, degraded
}

// fanOut queries a tier of sources concurrently and waits for the tier
// to finish or the cycle deadline, whichever comes first.
func (a *Aggregator) fanOut(ctx context.Context, col *collector, adapters []source.Adapter, degraded bool, date string) {
	if len(adapters) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, ad := range adapters {
		wg.Add(1)
		go func(ad source.Adapter) {
			defer wg.Done()
			out := ad.FetchAndParse(ctx, date)
			if degraded {
				out.Info.Degraded = true
			}
			col.record(out)
			a.feedback(out)
		}(ad)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// feedback folds one source's cycle outcome into its breaker.
// Configuration errors are the operator's fault, not the source's,
// and carry no penalty.
func (a *Aggregator) feedback(out source.Outcome) {
	cfg := a.sources[out.Source]
	if cfg == nil || out.Info.Status == racing.StatusConfigError {
		return
	}
	a.client.Report(cfg, out.Info.Status == racing.StatusSuccess)
}

// collector accumulates source outcomes and merges races by identity.
type collector struct {
	mu     sync.Mutex
	closed bool
	infos  map[string]racing.SourceInfo
	races  map[string]*racing.Race
}

func newCollector(adapters []source.Adapter) *collector {
	infos := make(map[string]racing.SourceInfo, len(adapters))
	for _, ad := range adapters {
		infos[ad.Name()] = racing.SourceInfo{Name: ad.Name(), Status: racing.StatusPending}
	}
	return &collector{infos: infos, races: make(map[string]*racing.Race)}
}

func (c *collector) record(out source.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.infos[out.Source] = out.Info
	for _, race := range out.Races {
		key := race.Key()
		if existing, ok := c.races[key]; ok {
			existing.Merge(race)
		} else {
			c.races[key] = race
		}
	}
}

// coverage is the number of distinct races collected so far.
func (c *collector) coverage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.races)
}

// finalize snapshots the collected state into a result. Sources still
// pending (the cycle deadline cut them off) are marked FAILED. Races
// and source infos are sorted for deterministic output.
func (c *collector) finalize(date string) (*racing.AggregatedResult, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true

	completed := 0
	infos := make([]racing.SourceInfo, 0, len(c.infos))
	for _, info := range c.infos {
		if info.Status == racing.StatusPending {
			info.Status = racing.StatusFailed
			info.Error = "cycle deadline exceeded"
		} else {
			completed++
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	races := make([]*racing.Race, 0, len(c.races))
	for _, r := range c.races {
		races = append(races, r)
	}
	sort.Slice(races, func(i, j int) bool {
		a, b := races[i], races[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if va, vb := racing.NormalizeVenue(a.Venue), racing.NormalizeVenue(b.Venue); va != vb {
			return va < vb
		}
		return a.RaceNumber < b.RaceNumber
	})

	return &racing.AggregatedResult{Date: date, Races: races, SourceInfo: infos}, completed
}
