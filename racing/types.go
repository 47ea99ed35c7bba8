// Package racing defines the shared data model for race and odds
// aggregation: races, runners, per-source odds quotes, and the merged
// result produced by each aggregation cycle.
package racing

import "time"

// SourceStatus is the outcome of one source's fetch during a cycle.
type SourceStatus string

const (
	StatusSuccess     SourceStatus = "SUCCESS"
	StatusFailed      SourceStatus = "FAILED"
	StatusConfigError SourceStatus = "CONFIG_ERROR"
	StatusPending     SourceStatus = "PENDING"
)

// OddsQuote is one source's win price for a runner.
type OddsQuote struct {
	Win         float64   `json:"win"`
	Source      string    `json:"source"`
	LastUpdated time.Time `json:"last_updated"`
}

// Valid reports whether the quote carries a usable price. Zero and
// negative prices are sentinel values some sources emit for scratched
// runners or missing markets.
func (q OddsQuote) Valid() bool {
	return q.Win > 0
}

// Runner is one entrant in a race, with odds keyed by source name.
type Runner struct {
	Number int                  `json:"number"`
	Name   string               `json:"name"`
	Odds   map[string]OddsQuote `json:"odds"`
}

// Best returns the highest valid win price across all reporting
// sources. ok is false when no source reported a valid price.
func (r *Runner) Best() (best OddsQuote, ok bool) {
	for _, q := range r.Odds {
		if !q.Valid() {
			continue
		}
		if !ok || q.Win > best.Win {
			best = q
			ok = true
		}
	}
	return best, ok
}

// Race is one race card entry. Identity is (normalized venue, race
// number, date), see Key.
type Race struct {
	Venue      string    `json:"venue"`
	RaceNumber int       `json:"race_number"`
	Date       string    `json:"date"` // YYYY-MM-DD
	StartTime  string    `json:"start_time,omitempty"`
	Runners    []*Runner `json:"runners"`
}

// Runner returns the runner with the given number, or nil.
func (r *Race) Runner(number int) *Runner {
	for _, rn := range r.Runners {
		if rn.Number == number {
			return rn
		}
	}
	return nil
}

// SourceInfo reports one source's contribution to an aggregation cycle.
type SourceInfo struct {
	Name         string        `json:"name"`
	Status       SourceStatus  `json:"status"`
	RacesFetched int           `json:"races_fetched"`
	Duration     time.Duration `json:"fetch_duration"`
	Error        string        `json:"error_message,omitempty"`
	AttemptedURL string        `json:"attempted_url,omitempty"`
	Degraded     bool          `json:"degraded,omitempty"`
}

// AggregatedResult is the merged, deduplicated output of one cycle.
type AggregatedResult struct {
	Date       string       `json:"date"`
	Races      []*Race      `json:"races"`
	SourceInfo []SourceInfo `json:"source_info"`
	Stale      bool         `json:"stale,omitempty"`
	CachedAt   time.Time    `json:"cached_at,omitempty"`
}
