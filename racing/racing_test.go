package racing

import (
	"testing"
	"time"
)

func TestNormalizeVenue_Aliases(t *testing.T) {
	// WHAT: Known abbreviations expand to canonical track names.
	// WHY: Sources abbreviate inconsistently; dedup keys must agree.
	cases := map[string]string{
		"GP":              "gulfstream park",
		"gulfstream park": "gulfstream park",
		"Santa-Anita":     "santa anita",
		"  Del  Mar ":     "del mar",
		"St. Cloud":       "st cloud",
	}
	for in, want := range cases {
		if got := NormalizeVenue(in); got != want {
			t.Errorf("NormalizeVenue(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRaceKey_SameRaceDifferentSpelling(t *testing.T) {
	a := &Race{Venue: "GP", RaceNumber: 3, Date: "2025-01-29"}
	b := &Race{Venue: "Gulfstream Park", RaceNumber: 3, Date: "2025-01-29"}
	if a.Key() != b.Key() {
		t.Errorf("keys differ: %q vs %q", a.Key(), b.Key())
	}
	c := &Race{Venue: "GP", RaceNumber: 4, Date: "2025-01-29"}
	if a.Key() == c.Key() {
		t.Errorf("different race numbers share key %q", a.Key())
	}
}

func TestRunnerBest_MaxValidPrice(t *testing.T) {
	// WHAT: Best() returns the maximum valid win price across sources.
	// Sentinel-invalid (zero/negative) prices are excluded.
	rn := &Runner{
		Number: 1,
		Name:   "Thunder Bay",
		Odds: map[string]OddsQuote{
			"A": {Win: 3.5, Source: "A"},
			"B": {Win: 4.2, Source: "B"},
			"C": {Win: 0, Source: "C"}, // scratched sentinel
		},
	}
	best, ok := rn.Best()
	if !ok {
		t.Fatal("expected a valid best price")
	}
	if best.Win != 4.2 || best.Source != "B" {
		t.Errorf("best = %.2f from %s, want 4.20 from B", best.Win, best.Source)
	}
}

func TestRunnerBest_AllInvalid(t *testing.T) {
	rn := &Runner{Odds: map[string]OddsQuote{"A": {Win: 0}, "B": {Win: -1}}}
	if _, ok := rn.Best(); ok {
		t.Error("expected ok=false when every price is sentinel-invalid")
	}
}

func TestMerge_UnionsRunnerOdds(t *testing.T) {
	t1 := time.Date(2025, 1, 29, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	a := &Race{Venue: "GP", RaceNumber: 1, Date: "2025-01-29", Runners: []*Runner{
		{Number: 1, Name: "Alpha", Odds: map[string]OddsQuote{"src1": {Win: 2.0, Source: "src1", LastUpdated: t1}}},
	}}
	b := &Race{Venue: "Gulfstream Park", RaceNumber: 1, Date: "2025-01-29", StartTime: "14:30", Runners: []*Runner{
		{Number: 1, Name: "Alpha", Odds: map[string]OddsQuote{"src2": {Win: 2.4, Source: "src2", LastUpdated: t2}}},
		{Number: 2, Name: "Beta", Odds: map[string]OddsQuote{"src2": {Win: 9.0, Source: "src2", LastUpdated: t2}}},
	}}

	a.Merge(b)

	if a.StartTime != "14:30" {
		t.Errorf("start time not filled from later record: %q", a.StartTime)
	}
	if len(a.Runners) != 2 {
		t.Fatalf("runners = %d, want 2", len(a.Runners))
	}
	one := a.Runner(1)
	if len(one.Odds) != 2 {
		t.Errorf("runner 1 odds sources = %d, want union of 2", len(one.Odds))
	}
	best, _ := one.Best()
	if best.Source != "src2" {
		t.Errorf("best source = %s, want src2", best.Source)
	}
}

func TestMerge_FresherQuoteWinsWithinSource(t *testing.T) {
	// WHAT: Two records from the same source merge to the newer quote.
	old := time.Date(2025, 1, 29, 10, 0, 0, 0, time.UTC)
	fresh := old.Add(5 * time.Minute)

	a := &Race{Venue: "GP", RaceNumber: 1, Date: "2025-01-29", Runners: []*Runner{
		{Number: 1, Odds: map[string]OddsQuote{"src1": {Win: 2.0, LastUpdated: fresh}}},
	}}
	b := &Race{Venue: "GP", RaceNumber: 1, Date: "2025-01-29", Runners: []*Runner{
		{Number: 1, Odds: map[string]OddsQuote{"src1": {Win: 1.5, LastUpdated: old}}},
	}}
	a.Merge(b)
	if q := a.Runner(1).Odds["src1"]; q.Win != 2.0 {
		t.Errorf("stale quote overwrote fresh one: %.2f", q.Win)
	}
}
