package heal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oddsgrid/oddsgrid/internal/config"
)

func testSource() *config.SourceConfig {
	return &config.SourceConfig{
		Name:       "equibase",
		BaseURL:    "https://equibase.com",
		DateFormat: "2006-01-02",
	}
}

// probeAccepting verifies only URLs for which ok returns true.
func probeAccepting(ok func(url string) bool) ProbeFunc {
	return func(_ context.Context, url string) error {
		if ok(url) {
			return nil
		}
		return errors.New("probe: not found")
	}
}

func TestHeal_DateCorrectionScenario(t *testing.T) {
	// WHAT: /races/2025-01-29/GP is broken; the compact-date variant
	// /races/20250129/GP verifies; the healer returns it with
	// strategy = date_correction.
	h := New(
		probeAccepting(func(u string) bool { return u == "https://equibase.com/races/20250129/GP" }),
		nil, NewReport(), nil,
	)

	res, err := h.Heal(context.Background(), &Request{
		Source: testSource(),
		URL:    "https://equibase.com/races/2025-01-29/GP",
		Date:   "2025-01-29",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.URL != "https://equibase.com/races/20250129/GP" {
		t.Errorf("healed URL = %s", res.URL)
	}
	if res.Strategy != "date_correction" {
		t.Errorf("strategy = %s, want date_correction", res.Strategy)
	}
}

func TestHeal_FixedPriorityOrder(t *testing.T) {
	// WHAT: Strategies run in fixed priority order and the first
	// verified success short-circuits later strategies.
	h := New(probeAccepting(func(string) bool { return true }), nil, NewReport(), nil)

	want := []string{"pattern_fix", "date_correction", "param_adjustment", "homepage_crawl", "domain_search", "fallback_api"}
	got := h.Strategies()
	if len(got) != len(want) {
		t.Fatalf("strategies = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("strategy[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	// Double slash is fixable by pattern_fix (priority 1), so later
	// strategies never run even though the date is also substitutable.
	res, err := h.Heal(context.Background(), &Request{
		Source: testSource(),
		URL:    "https://equibase.com/races//2025-01-29",
		Date:   "2025-01-29",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Strategy != "pattern_fix" {
		t.Errorf("strategy = %s, want pattern_fix to short-circuit", res.Strategy)
	}
	if res.URL != "https://equibase.com/races/2025-01-29" {
		t.Errorf("healed URL = %s", res.URL)
	}
}

func TestHeal_Unhealable(t *testing.T) {
	h := New(probeAccepting(func(string) bool { return false }), nil, NewReport(), nil)

	_, err := h.Heal(context.Background(), &Request{
		Source: testSource(),
		URL:    "https://equibase.com/races/2025-01-29",
		Date:   "2025-01-29",
	})
	var unhealable *ErrUnhealable
	if !errors.As(err, &unhealable) {
		t.Fatalf("err = %v, want ErrUnhealable", err)
	}
	rep := h.Report().Snapshot()["equibase"]
	if rep.Unhealable != 1 {
		t.Errorf("unhealable count = %d", rep.Unhealable)
	}
	if rep.Failures == 0 {
		t.Error("failed attempts not recorded")
	}
}

func TestHeal_ParamAdjustment(t *testing.T) {
	src := testSource()
	src.ParamTemplate = map[string]string{
		"track": "{venue}",
		"date":  "{date}",
		"race":  "{race}",
	}
	h := New(
		probeAccepting(func(u string) bool { return strings.Contains(u, "track=gulfstream-park") }),
		nil, NewReport(), nil,
	)

	res, err := h.Heal(context.Background(), &Request{
		Source:     src,
		URL:        "https://equibase.com/cards",
		Venue:      "Gulfstream Park",
		Date:       "2025-01-29",
		RaceNumber: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Strategy != "param_adjustment" {
		t.Errorf("strategy = %s", res.Strategy)
	}
	for _, part := range []string{"track=gulfstream-park", "date=2025-01-29", "race=3"} {
		if !strings.Contains(res.URL, part) {
			t.Errorf("healed URL %s missing %s", res.URL, part)
		}
	}
}

func TestHeal_HomepageCrawl(t *testing.T) {
	// WHAT: The homepage is scanned with the per-source pattern set;
	// the link matching the context date wins.
	src := testSource()
	src.Homepage = "https://equibase.com/"
	src.LinkPatterns = []string{`/races/\d{4}-\d{2}-\d{2}`}
	src.ParamTemplate = nil

	homepage := `<html><body>
		<a href="/about">About</a>
		<a href="/races/2025-01-28/SA">Yesterday</a>
		<a href="/races/2025-01-29/GP">Today</a>
	</body></html>`

	fetch := func(_ context.Context, url, _ string) ([]byte, error) {
		if url != "https://equibase.com/" {
			return nil, fmt.Errorf("unexpected fetch %s", url)
		}
		return []byte(homepage), nil
	}
	h := New(
		probeAccepting(func(u string) bool { return strings.Contains(u, "/races/2025-01-29/") }),
		fetch, NewReport(), nil,
	)

	res, err := h.Heal(context.Background(), &Request{
		Source: src,
		URL:    "https://equibase.com/races/broken",
		Date:   "2025-01-29",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Strategy != "homepage_crawl" {
		t.Errorf("strategy = %s", res.Strategy)
	}
	if res.URL != "https://equibase.com/races/2025-01-29/GP" {
		t.Errorf("healed URL = %s", res.URL)
	}
}

func TestHomepageCrawl_ContextLinkListedOnce(t *testing.T) {
	// WHAT: A link matching both the pattern set and the context date
	// is emitted once, so the capped probe budget is spent on distinct
	// candidates instead of re-probing the same URL.
	src := testSource()
	src.Homepage = "https://equibase.com/"
	src.LinkPatterns = []string{`/races/\d{4}-\d{2}-\d{2}`}

	homepage := `<html><body>
		<a href="/races/2025-01-29/GP">Today</a>
		<a href="/races/2025-01-28/A">A</a>
		<a href="/races/2025-01-27/B">B</a>
		<a href="/races/2025-01-26/C">C</a>
		<a href="/races/2025-01-25/D">D</a>
	</body></html>`

	fetch := func(_ context.Context, _, _ string) ([]byte, error) {
		return []byte(homepage), nil
	}
	s := &HomepageCrawl{Fetch: fetch}

	got := s.Attempt(context.Background(), &Request{
		Source: src,
		URL:    "https://equibase.com/races/broken",
		Date:   "2025-01-29",
	})
	if len(got) != 5 {
		t.Fatalf("candidates = %v, want all 5 distinct links", got)
	}

	seen := make(map[string]bool, len(got))
	for _, u := range got {
		if seen[u] {
			t.Fatalf("candidate %s listed twice in %v", u, got)
		}
		seen[u] = true
	}
	if got[0] != "https://equibase.com/races/2025-01-29/GP" {
		t.Errorf("context-matching link not first: %v", got)
	}
	if !seen["https://equibase.com/races/2025-01-25/D"] {
		t.Errorf("last distinct link pushed out of the budget: %v", got)
	}
}

func TestHeal_DomainSearchAndFallbackAPI(t *testing.T) {
	src := testSource()
	src.PathTemplates = []string{"/cards/{date}/{venue}"}
	src.APIEndpoint = "https://api.equibase.com/v1/races?date={date}"

	// Path convention fails, API endpoint verifies.
	h := New(
		probeAccepting(func(u string) bool { return strings.HasPrefix(u, "https://api.equibase.com/") }),
		nil, NewReport(), nil,
	)

	res, err := h.Heal(context.Background(), &Request{
		Source: src,
		URL:    "https://equibase.com/cards/broken",
		Venue:  "Del Mar",
		Date:   "2025-01-29",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Strategy != "fallback_api" {
		t.Errorf("strategy = %s, want fallback_api", res.Strategy)
	}
	if res.URL != "https://api.equibase.com/v1/races?date=2025-01-29" {
		t.Errorf("healed URL = %s", res.URL)
	}
}

// stubStrategy yields a fixed candidate list.
type stubStrategy struct {
	name       string
	candidates []string
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Attempt(context.Context, *Request) []string { return s.candidates }

func TestHeal_ElapsedIsPerCandidate(t *testing.T) {
	// WHAT: Each recorded attempt's Elapsed covers its own probe, not
	// the accumulated cost of the strategy's earlier candidates.
	const probeCost = 40 * time.Millisecond
	probe := func(_ context.Context, url string) error {
		time.Sleep(probeCost)
		if url == "https://equibase.com/c" {
			return nil
		}
		return errors.New("probe: not found")
	}
	h := &Healer{
		strategies: []Strategy{&stubStrategy{name: "path_guess", candidates: []string{
			"https://equibase.com/a",
			"https://equibase.com/b",
			"https://equibase.com/c",
		}}},
		probe:  probe,
		report: NewReport(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	if _, err := h.Heal(context.Background(), &Request{Source: testSource(), URL: "https://equibase.com/races/x"}); err != nil {
		t.Fatal(err)
	}

	rep := h.Report().Snapshot()["equibase"]
	if len(rep.Recent) != 3 {
		t.Fatalf("recorded attempts = %d, want 3", len(rep.Recent))
	}
	for _, a := range rep.Recent {
		if a.Elapsed >= 2*probeCost {
			t.Errorf("attempt %s elapsed = %v, accumulates earlier probes", a.Candidate, a.Elapsed)
		}
	}
}

func TestProbe_HeadThenGetFallback(t *testing.T) {
	// WHY: Some sites reject HEAD outright; verification must fall
	// back to GET before declaring a candidate dead.
	var sawGet bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusMethodNotAllowed)
		case http.MethodGet:
			sawGet = true
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	probe := NewProbe(5 * time.Second)
	if err := probe(context.Background(), srv.URL); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !sawGet {
		t.Error("probe never fell back to GET")
	}
}

func TestProbe_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	probe := NewProbe(5 * time.Second)
	if err := probe(context.Background(), srv.URL+"/gone"); err == nil {
		t.Error("expected probe failure on 404")
	}
}

func TestReport_ConcurrentRecords(t *testing.T) {
	// WHAT: Concurrent healer appends from different sources must not
	// corrupt the ledger.
	r := NewReport()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			source := fmt.Sprintf("src-%d", n%2)
			for j := 0; j < 100; j++ {
				r.Record(source, "pattern_fix", "u", j%2 == 0, time.Millisecond)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	snap := r.Snapshot()
	total := snap["src-0"].Attempts + snap["src-1"].Attempts
	if total != 800 {
		t.Errorf("attempts = %d, want 800", total)
	}
}
