// Package pacing bounds request rate with a per-domain token bucket plus a
// randomized inter-request delay.
package pacing

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds pacer configuration. DelayMin/DelayMax bound the uniform
// random delay applied between successive dispatches; DefaultRPS/DefaultBurst
// feed the per-domain token bucket (RPS <= 0 disables the bucket).
type Config struct {
	DelayMin     time.Duration
	DelayMax     time.Duration
	DefaultRPS   float64
	DefaultBurst int
}

// Pacer manages per-domain rate limits and jittered inter-request delays.
type Pacer struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	delayMin     time.Duration
	delayMax     time.Duration
}

// New creates a Pacer.
func New(cfg Config) *Pacer {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	if cfg.DelayMax < cfg.DelayMin {
		cfg.DelayMax = cfg.DelayMin
	}
	return &Pacer{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		delayMin:     cfg.DelayMin,
		delayMax:     cfg.DelayMax,
	}
}

// Wait blocks for the jittered delay and until a token is available for the
// URL's domain, respecting the context.
func (p *Pacer) Wait(ctx context.Context, rawURL string) error {
	if delay := p.sampleDelay(); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("pacing wait: %w", ctx.Err())
		case <-timer.C:
		}
	}

	domain := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		domain = u.Hostname()
	}
	p.mu.Lock()
	limiter, ok := p.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(p.defaultRate, p.defaultBurst)
		p.limiters[domain] = limiter
	}
	p.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func (p *Pacer) sampleDelay() time.Duration {
	if p.delayMax <= 0 {
		return 0
	}
	if p.delayMax == p.delayMin {
		return p.delayMin
	}
	return p.delayMin + rand.N(p.delayMax-p.delayMin)
}
