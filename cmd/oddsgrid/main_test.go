package main

import (
	"testing"
	"time"
)

func TestCycleDate_ExplicitFlagWins(t *testing.T) {
	now := func() time.Time { return time.Date(2025, 1, 29, 12, 0, 0, 0, time.UTC) }
	if got := cycleDate("2024-12-31", now); got != "2024-12-31" {
		t.Errorf("cycleDate = %q, want the explicit date", got)
	}
}

func TestCycleDate_RollsOverAtMidnight(t *testing.T) {
	// WHAT: Without an explicit date, each cycle resolves the current
	// day, so a long-running daemon moves to the new card at midnight.
	clock := time.Date(2025, 1, 29, 23, 59, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	if got := cycleDate("", now); got != "2025-01-29" {
		t.Errorf("before midnight = %q, want 2025-01-29", got)
	}
	clock = clock.Add(2 * time.Minute)
	if got := cycleDate("", now); got != "2025-01-30" {
		t.Errorf("after midnight = %q, want 2025-01-30", got)
	}
}
