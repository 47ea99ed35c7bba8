package aggregate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/oddsgrid/oddsgrid/internal/store"
	"github.com/oddsgrid/oddsgrid/racing"
)

// ErrCacheMiss means no cached result exists for the date, or the one
// that does is older than the configured maximum age.
var ErrCacheMiss = errors.New("aggregate: cache miss")

// Cache persists aggregated results per date so a cycle where every
// live source fails can still serve yesterday's numbers, clearly
// flagged as stale.
type Cache struct {
	store  *store.Store
	maxAge time.Duration
	now    func() time.Time
}

// NewCache wraps a store as a result cache. maxAge bounds how old a
// cached result may be before it counts as a miss.
func NewCache(s *store.Store, maxAge time.Duration) *Cache {
	return &Cache{store: s, maxAge: maxAge, now: time.Now}
}

// Save stores a result under its date, replacing any previous one.
func (c *Cache) Save(ctx context.Context, res *racing.AggregatedResult) error {
	payload, err := sonic.Marshal(res)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", res.Date, err)
	}
	return c.store.SaveResult(ctx, res.Date, payload, c.now())
}

// Load returns the cached result for a date, stamped with when it was
// cached. Too-old entries and absent dates return ErrCacheMiss.
func (c *Cache) Load(ctx context.Context, date string) (*racing.AggregatedResult, error) {
	payload, at, err := c.store.LoadResult(ctx, date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	if c.maxAge > 0 && c.now().Sub(at) > c.maxAge {
		return nil, ErrCacheMiss
	}

	var res racing.AggregatedResult
	if err := sonic.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("cache: unmarshal %s: %w", date, err)
	}
	res.CachedAt = at
	return &res, nil
}
