// Package ratelimit implements the per-caller token bucket that guards generation providers.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

var ErrRateLimitExceeded = errors.New("rate limit exceeded")

type Config struct {
	// Window sets the idle period after which a bucket is evicted (2 x Window).
	Window time.Duration
	// MaxRequests is informational; enforcement happens through the bucket.
	MaxRequests   int
	BucketSize int
	// RefillRate is in tokens per second. Unlike the other fields, zero is kept: buckets then never refill.
	RefillRate    float64
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Window:        60 * time.Second,
		MaxRequests:   30,
		BucketSize:    10,
		RefillRate:    5,
		SweepInterval: time.Second,
	}
}

type bucket struct {
	mu           sync.Mutex
	tokens       float64
	lastRefillAt time.Time
	lastAdmitAt  time.Time
	evicted      bool
}

type Limiter struct {
	cfg Config
	now func() time.Time

	mu      sync.RWMutex
	buckets map[string]*bucket
}

type Option func(*Limiter)

// WithClock replaces time.Now, letting tests drive refills deterministically.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(cfg Config, opts ...Option) *Limiter {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = def.BucketSize
	}
	if cfg.RefillRate < 0 {
		cfg.RefillRate = 0
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	l := &Limiter{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit takes one token from key's bucket, creating a full bucket on first use.
func (l *Limiter) Admit(key string) error {
	for {
		b := l.bucketFor(key)

		b.mu.Lock()
		if b.evicted {
			// Lost a race with the sweep; the key now maps to a fresh bucket.
			b.mu.Unlock()
			continue
		}
		b.lastAdmitAt = l.now()
		if b.tokens < 1 {
			b.mu.Unlock()
			return ErrRateLimitExceeded
		}
		b.tokens--
		b.mu.Unlock()
		return nil
	}
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	now := l.now()
	b = &bucket{
		tokens:       float64(l.cfg.BucketSize),
		lastRefillAt: now,
		lastAdmitAt:  now,
	}
	l.buckets[key] = b
	return b
}

// Refill runs one sweep: every bucket gains floor(elapsed x RefillRate) tokens up to BucketSize,
// and buckets without an admit for more than 2 x Window are dropped.
func (l *Limiter) Refill() {
	now := l.now()
	idle := 2 * l.cfg.Window
	size := float64(l.cfg.BucketSize)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		b.mu.Lock()
		if now.Sub(b.lastAdmitAt) > idle {
			b.evicted = true
			delete(l.buckets, key)
			b.mu.Unlock()
			continue
		}

		elapsed := now.Sub(b.lastRefillAt).Seconds()
		added := math.Floor(elapsed * l.cfg.RefillRate)
		if added > 0 {
			b.tokens = math.Min(size, b.tokens+added)
			// Keep the fractional remainder so slow sweeps do not lose refill time.
			b.lastRefillAt = b.lastRefillAt.Add(time.Duration(added / l.cfg.RefillRate * float64(time.Second)))
		}
		if b.tokens >= size {
			b.lastRefillAt = now
		}
		b.mu.Unlock()
	}
}

// Run sweeps at SweepInterval until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Refill()
		}
	}
}

// Tokens reports the tokens currently available to key.
func (l *Limiter) Tokens(key string) (float64, bool) {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if !ok {
		return 0, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens, true
}

// Len is the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

func (l *Limiter) Config() Config {
	return l.cfg
}
