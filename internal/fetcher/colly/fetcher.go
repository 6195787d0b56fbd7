// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/civicrawl/civicrawl/internal/fetcher"
	"github.com/civicrawl/civicrawl/internal/metrics"
)

// Config controls collector and retry behavior.
type Config struct {
	UserAgent      string
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Fetcher fetches a URL via a cloned Colly collector, retrying transient
// failures internally with jittered exponential backoff.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 250 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// WithMetrics attaches crawl metrics so retry attempts are counted.
func (f *Fetcher) WithMetrics(m *metrics.Metrics) *Fetcher {
	f.metrics = m
	return f
}

// Fetch retrieves url, consuming up to MaxRetries attempts on transient
// failures. The error returned after exhaustion is permanent.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		body, err := f.fetchOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !fetcher.IsTransient(err) {
			return nil, err
		}
		if attempt == f.cfg.MaxRetries {
			break
		}
		f.metrics.IncRetry()
		delay := f.backoff(attempt)
		f.logger.Warn("transient fetch failure, backing off",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &fetcher.PermanentError{Err: ctx.Err()}
		case <-timer.C:
		}
	}
	return nil, &fetcher.PermanentError{Attempts: f.cfg.MaxRetries, Err: lastErr}
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	if err := f.runCollector(ctx, collector, url); err != nil {
		// In sync mode colly surfaces HTTP-level failures both through
		// OnError and the Visit return; prefer the status classification.
		if status >= http.StatusBadRequest {
			return nil, fetcher.ClassifyStatus(status)
		}
		return nil, err
	}

	switch {
	case fetchErr != nil && status >= http.StatusBadRequest:
		return nil, fetcher.ClassifyStatus(status)
	case fetchErr != nil:
		return nil, fetcher.ClassifyErr(fetchErr)
	case status >= http.StatusBadRequest:
		return nil, fetcher.ClassifyStatus(status)
	}
	return body, nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return &fetcher.PermanentError{Err: fmt.Errorf("fetch canceled: %w", ctx.Err())}
	case err := <-done:
		if err != nil {
			return fetcher.ClassifyErr(err)
		}
		return nil
	}
}

// backoff grows exponentially from BackoffInitial, capped at BackoffMax,
// with random jitter in the upper half so spacing never decreases.
func (f *Fetcher) backoff(attempt int) time.Duration {
	delay := f.cfg.BackoffInitial << (attempt - 1)
	if delay > f.cfg.BackoffMax {
		delay = f.cfg.BackoffMax
	}
	half := delay / 2
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
