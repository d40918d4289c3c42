// Package ratelimit provides per-domain token buckets shared by every component
// that talks to the network.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultRate applies to domains without a configured limit (requests per second)
const DefaultRate = 1.0

var ErrExceedsBurst = errors.New("requested tokens exceed bucket burst")

// Limit configures one domain. Burst defaults to Rate when zero.
type Limit struct {
	Rate  float64 `json:"rate" mapstructure:"rate"`
	Burst float64 `json:"burst" mapstructure:"burst"`
}

// Bucket is a token bucket. tokens stays within [0, burst].
type Bucket struct {
	mu         sync.Mutex
	rate       float64
	burst      float64
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
}

// EffectiveBurst is the bucket capacity the limit yields
func (l Limit) EffectiveBurst() float64 {
	if l.Burst <= 0 {
		return l.Rate
	}
	return l.Burst
}

// Validate rejects limits whose bucket could never grant a single request
func (l Limit) Validate() error {
	if l.Rate <= 0 {
		return fmt.Errorf("rate must be positive, got %.2f", l.Rate)
	}
	if burst := l.EffectiveBurst(); burst < 1 {
		return fmt.Errorf("%w: burst %.2f cannot grant one request, set burst to at least 1", ErrExceedsBurst, burst)
	}
	return nil
}

func newBucket(l Limit, now func() time.Time) *Bucket {
	burst := l.EffectiveBurst()
	return &Bucket{
		rate:       l.Rate,
		burst:      burst,
		tokens:     burst,
		lastUpdate: now(),
		now:        now,
	}
}

// refill must be called with mu held
func (b *Bucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.burst, b.tokens+elapsed*b.rate)
		b.lastUpdate = now
	}
}

// take consumes tokens if available, otherwise returns how long to wait
func (b *Bucket) take(tokens float64) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= tokens {
		b.tokens -= tokens
		return true, 0
	}
	missing := tokens - b.tokens
	return false, time.Duration(missing / b.rate * float64(time.Second))
}

// Available returns the current token count after refill
func (b *Bucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// Acquire blocks until tokens are available or ctx is done
func (b *Bucket) Acquire(ctx context.Context, tokens float64) error {
	if tokens > b.burst {
		return fmt.Errorf("%w: %.2f > %.2f", ErrExceedsBurst, tokens, b.burst)
	}

	for {
		ok, wait := b.take(tokens)
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire consumes tokens only if they are available right now
func (b *Bucket) TryAcquire(tokens float64) bool {
	ok, _ := b.take(tokens)
	return ok
}

// Limiter holds one lazily created bucket per domain. Buckets are never evicted.
type Limiter struct {
	mu          sync.Mutex
	limits      map[string]Limit
	defaultRate float64
	buckets     map[string]*Bucket
	now         func() time.Time
}

// NewLimiter builds a limiter; a non-positive defaultRate falls back to DefaultRate
func NewLimiter(limits map[string]Limit, defaultRate float64) *Limiter {
	if defaultRate <= 0 {
		defaultRate = DefaultRate
	}
	normalized := make(map[string]Limit, len(limits))
	for domain, l := range limits {
		normalized[strings.ToLower(domain)] = l
	}
	return &Limiter{
		limits:      normalized,
		defaultRate: defaultRate,
		buckets:     make(map[string]*Bucket),
		now:         time.Now,
	}
}

// Bucket returns the bucket of a domain (or URL), creating it on first use
func (l *Limiter) Bucket(target string) *Bucket {
	domain := Domain(target)

	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[domain]; ok {
		return b
	}

	limit, ok := l.limits[domain]
	if !ok || limit.Rate <= 0 {
		limit = Limit{Rate: l.defaultRate}
	}
	b := newBucket(limit, l.now)
	l.buckets[domain] = b

	log.Debug().
		Str("domain", domain).
		Float64("rate", b.rate).
		Float64("burst", b.burst).
		Msg("Created rate limit bucket")
	return b
}

// Acquire blocks until the domain of target grants tokens
func (l *Limiter) Acquire(ctx context.Context, target string, tokens float64) error {
	return l.Bucket(target).Acquire(ctx, tokens)
}

// TryAcquire never blocks
func (l *Limiter) TryAcquire(target string, tokens float64) bool {
	return l.Bucket(target).TryAcquire(tokens)
}

// Domain extracts the lowercased host of a URL. Inputs without a scheme are
// treated as a bare domain.
func Domain(target string) string {
	if strings.Contains(target, "://") {
		if u, err := url.Parse(target); err == nil && u.Hostname() != "" {
			return strings.ToLower(u.Hostname())
		}
	}
	return strings.ToLower(target)
}
