// Package breaker implements per-source circuit breaking.
//
// A breaker isolates a persistently failing source so the fetcher stops
// burning retry and backoff budget on it. Closed is normal operation.
// Threshold consecutive failures open the circuit; after the reset
// timeout it half-opens, and a success there closes it again.
package breaker

import (
	"context"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	Closed   State = iota // Normal operation, calls pass through.
	Open                  // Calls rejected immediately.
	HalfOpen              // Probe calls allowed to test recovery.
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Breaker is a circuit breaker for one source.
// Thread-safe: all state transitions use a mutex.
type Breaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	threshold    int           // consecutive failures before opening
	resetTimeout time.Duration // how long to stay open before half-open
	halfOpenMax  int           // successes in half-open before closing
	lastFailure  time.Time
	now          func() time.Time // injectable clock for testing
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithThreshold sets the consecutive-failure count that trips the
// breaker open.
func WithThreshold(n int) Option {
	return func(b *Breaker) { b.threshold = n }
}

// WithResetTimeout sets how long the breaker stays open before
// transitioning to half-open.
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) { b.resetTimeout = d }
}

// WithHalfOpenMax sets how many consecutive successes in half-open are
// needed to close the breaker.
func WithHalfOpenMax(n int) Option {
	return func(b *Breaker) { b.halfOpenMax = n }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(b *Breaker) { b.now = fn }
}

// New creates a breaker with defaults: 5 failures to open, 60s reset
// timeout, one success to close from half-open.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		state:        Closed,
		threshold:    5,
		resetTimeout: 60 * time.Second,
		halfOpenMax:  1,
		now:          time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// State returns the current breaker state, applying the open→half-open
// transition if the reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransition()
	return b.state
}

// Allow checks whether a call is permitted. Returns false while the
// breaker is open and the reset timeout has not elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransition()
	return b.state != Open
}

// Call invokes fn under the breaker. While open and unexpired, fn is
// not invoked and *ErrCircuitOpen is returned immediately.
func (b *Breaker) Call(ctx context.Context, source string, fn func(context.Context) error) error {
	if !b.Allow() {
		return &ErrCircuitOpen{Source: source, Until: b.RetryAt()}
	}
	err := fn(ctx)
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case HalfOpen:
		b.successes++
		if b.successes >= b.halfOpenMax {
			b.state = Closed
			b.failures = 0
			b.successes = 0
		}
	case Closed:
		b.failures = 0
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = b.now()
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = Open
		}
	case HalfOpen:
		// Any failure in half-open goes back to open.
		b.state = Open
		b.successes = 0
	}
}

// Reset forces the breaker back to closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.successes = 0
}

// RetryAt returns when an open breaker will next permit a probe call.
func (b *Breaker) RetryAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFailure.Add(b.resetTimeout)
}

// maybeTransition checks if an open breaker should move to half-open.
// Must be called with mu held.
func (b *Breaker) maybeTransition() {
	if b.state == Open && b.now().Sub(b.lastFailure) >= b.resetTimeout {
		b.state = HalfOpen
		b.successes = 0
	}
}
