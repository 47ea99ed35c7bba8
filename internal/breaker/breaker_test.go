package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFetch = errors.New("fetch failed")

// fakeClock returns an adjustable clock for breaker tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time       { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBreaker_OpensAtThreshold(t *testing.T) {
	// WHAT: Exactly threshold consecutive failures trip the breaker.
	clk := &fakeClock{t: time.Unix(1000, 0)}
	b := New(WithThreshold(5), WithClock(clk.now))

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		if b.State() != Closed {
			t.Fatalf("after %d failures: state = %s, want closed", i+1, b.State())
		}
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("after 5 failures: state = %s, want open", b.State())
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New(WithThreshold(3))
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Closed {
		t.Error("non-consecutive failures must not trip the breaker")
	}
}

func TestBreaker_CallRejectsWhileOpen(t *testing.T) {
	// WHAT: The 6th call after 5 failures raises ErrCircuitOpen without
	// invoking the wrapped function.
	clk := &fakeClock{t: time.Unix(1000, 0)}
	b := New(WithThreshold(5), WithResetTimeout(time.Minute), WithClock(clk.now))

	for i := 0; i < 5; i++ {
		_ = b.Call(context.Background(), "equibase", func(context.Context) error { return errFetch })
	}

	invoked := false
	err := b.Call(context.Background(), "equibase", func(context.Context) error {
		invoked = true
		return nil
	})

	var open *ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if open.Source != "equibase" {
		t.Errorf("source = %q", open.Source)
	}
	if invoked {
		t.Error("wrapped fn executed while breaker open")
	}
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	// WHAT: After the reset timeout, the first call is permitted
	// (half-open); success closes the circuit.
	clk := &fakeClock{t: time.Unix(1000, 0)}
	b := New(WithThreshold(2), WithResetTimeout(30*time.Second), WithClock(clk.now))

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Open {
		t.Fatal("breaker should be open")
	}

	clk.advance(31 * time.Second)
	if b.State() != HalfOpen {
		t.Fatalf("state = %s, want half-open after timeout", b.State())
	}

	err := b.Call(context.Background(), "src", func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("probe call: %v", err)
	}
	if b.State() != Closed {
		t.Errorf("state = %s, want closed after half-open success", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	b := New(WithThreshold(1), WithResetTimeout(10*time.Second), WithClock(clk.now))

	b.RecordFailure()
	clk.advance(11 * time.Second)
	if b.State() != HalfOpen {
		t.Fatal("expected half-open")
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Errorf("state = %s, want open after half-open failure", b.State())
	}
}
