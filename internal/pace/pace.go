// Package pace implements per-source adaptive request pacing.
//
// Each source gets a Limiter seeded from a requests-per-second ceiling.
// Errors grow the delay exponentially up to a maximum; successes decay
// it multiplicatively back toward the base rate. This prevents both
// self-inflicted rate-limit bans and thundering-herd retries.
package pace

import (
	"context"
	"sync"
	"time"
)

// Config configures a Limiter.
type Config struct {
	RequestsPerSecond float64       // base ceiling. Default: 1.
	MaxDelay          time.Duration // delay growth cap. Default: 2m.
	GrowthFactor      float64       // delay multiplier on error. Default: 2.
	DecayFactor       float64       // delay multiplier on success. Default: 0.75.
	Window            int           // recent request timestamps kept. Default: 10.
}

func (c *Config) defaults() {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 1
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Minute
	}
	if c.GrowthFactor <= 1 {
		c.GrowthFactor = 2
	}
	if c.DecayFactor <= 0 || c.DecayFactor >= 1 {
		c.DecayFactor = 0.75
	}
	if c.Window <= 0 {
		c.Window = 10
	}
}

// Limiter paces requests for one source.
// Thread-safe. Acquire blocks cooperatively, never busy-waits.
type Limiter struct {
	mu        sync.Mutex
	baseDelay time.Duration
	delay     time.Duration
	recent    []time.Time // rolling window of request timestamps
	config    Config
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) { l.now = fn }
}

// WithSleeper sets a custom wait function (for testing).
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = fn }
}

// New creates a Limiter.
func New(cfg Config, opts ...Option) *Limiter {
	cfg.defaults()
	base := time.Duration(float64(time.Second) / cfg.RequestsPerSecond)
	l := &Limiter{
		baseDelay: base,
		delay:     base,
		recent:    make([]time.Time, 0, cfg.Window),
		config:    cfg,
		now:       time.Now,
		sleep:     sleepCtx,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Acquire blocks until the pacing window permits the next request, or
// the context is cancelled. The wait is a timer select, not a spin.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.trim(now)

		var wait time.Duration
		if len(l.recent) > 0 {
			next := l.recent[len(l.recent)-1].Add(l.delay)
			wait = next.Sub(now)
		}
		if wait <= 0 {
			l.recent = append(l.recent, now)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// RecordSuccess decays the current delay multiplicatively toward the
// base rate.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := time.Duration(float64(l.delay) * l.config.DecayFactor)
	if d < l.baseDelay {
		d = l.baseDelay
	}
	l.delay = d
}

// RecordError grows the current delay exponentially up to the
// configured maximum.
func (l *Limiter) RecordError() {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := time.Duration(float64(l.delay) * l.config.GrowthFactor)
	if d > l.config.MaxDelay {
		d = l.config.MaxDelay
	}
	l.delay = d
}

// Delay returns the current inter-request delay.
func (l *Limiter) Delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delay
}

// trim drops timestamps outside the rolling window. Must be called
// with mu held.
func (l *Limiter) trim(now time.Time) {
	cutoff := now.Add(-time.Duration(l.config.Window) * l.delay)
	i := 0
	for i < len(l.recent) && l.recent[i].Before(cutoff) {
		i++
	}
	l.recent = l.recent[i:]
	if len(l.recent) > l.config.Window {
		l.recent = l.recent[len(l.recent)-l.config.Window:]
	}
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
