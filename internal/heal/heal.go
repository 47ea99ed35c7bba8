// Package heal implements self-correction of broken race-card URLs.
//
// Given a URL that failed with a not-found-class error, the Healer
// tries a fixed priority chain of strategies (pattern fix, date
// correction, parameter adjustment, homepage crawl, domain search,
// fallback API). Every candidate is verified with a cheap existence
// probe before acceptance; the chain stops at the first verified
// success. All attempts feed a cumulative report used to diagnose
// systematically unhealable sources.
package heal

import (
	"context"
	"log/slog"
	"time"

	"github.com/oddsgrid/oddsgrid/internal/config"
)

// Request describes one healing attempt.
type Request struct {
	Source     *config.SourceConfig
	URL        string // the failing URL
	Venue      string // context, may be empty
	Date       string // context date, YYYY-MM-DD, may be empty
	RaceNumber int    // context, 0 when unknown
}

// Result is a successful healing outcome.
type Result struct {
	URL      string // verified working substitute
	Strategy string // strategy that produced it
}

// Strategy produces candidate URLs for a broken one. Strategies are
// pure candidate generators: verification belongs to the Healer.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, req *Request) []string
}

// ProbeFunc verifies that a URL exists. nil error = verified.
type ProbeFunc func(ctx context.Context, url string) error

// FetchFunc retrieves raw content, used by the homepage-crawl strategy.
type FetchFunc func(ctx context.Context, url string, source string) ([]byte, error)

// Healer runs the strategy chain.
type Healer struct {
	strategies []Strategy
	probe      ProbeFunc
	report     *Report
	logger     *slog.Logger
}

// New creates a Healer with the default strategy chain. fetch is used
// by the homepage-crawl strategy; report receives every attempt and
// must not be nil-shared across healers (it is the process-wide
// ledger, serialized internally).
func New(probe ProbeFunc, fetch FetchFunc, report *Report, logger *slog.Logger) *Healer {
	if logger == nil {
		logger = slog.Default()
	}
	if report == nil {
		report = NewReport()
	}
	return &Healer{
		strategies: []Strategy{
			&PatternFix{},
			&DateCorrection{},
			&ParamAdjustment{},
			&HomepageCrawl{Fetch: fetch},
			&DomainSearch{},
			&FallbackAPI{},
		},
		probe:  probe,
		report: report,
		logger: logger,
	}
}

// Strategies returns the chain's strategy names in priority order.
func (h *Healer) Strategies() []string {
	names := make([]string, len(h.strategies))
	for i, s := range h.strategies {
		names[i] = s.Name()
	}
	return names
}

// Report returns the cumulative healing report.
func (h *Healer) Report() *Report { return h.report }

// Heal tries the strategy chain in order and returns the first
// verified substitute URL. Exhaustion returns *ErrUnhealable; the
// caller treats that as a hard per-cycle failure for the URL.
func (h *Healer) Heal(ctx context.Context, req *Request) (*Result, error) {
	source := req.Source.Name
	log := h.logger.With("source", source, "url", req.URL)

	for _, s := range h.strategies {
		if ctx.Err() != nil {
			break
		}

		start := time.Now()
		candidates := s.Attempt(ctx, req)

		if len(candidates) == 0 {
			h.report.Record(source, s.Name(), "", false, time.Since(start))
			continue
		}

		for _, candidate := range candidates {
			if candidate == req.URL {
				continue
			}
			probeStart := time.Now()
			err := h.probe(ctx, candidate)
			ok := err == nil
			// Elapsed covers this candidate's probe alone, not the
			// strategy's earlier candidates.
			h.report.Record(source, s.Name(), candidate, ok, time.Since(probeStart))
			if ok {
				log.Info("heal: verified substitute",
					"strategy", s.Name(), "healed_url", candidate)
				return &Result{URL: candidate, Strategy: s.Name()}, nil
			}
			log.Debug("heal: candidate rejected",
				"strategy", s.Name(), "candidate", candidate, "error", err)
		}
	}

	h.report.RecordUnhealable(source)
	log.Warn("heal: all strategies exhausted")
	return nil, &ErrUnhealable{Source: source, URL: req.URL}
}
