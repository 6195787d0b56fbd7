// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/civicrawl/civicrawl/internal/fetcher"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after load before reading the final
	// URL, so client-side redirects have a chance to run.
	SettleDelay time.Duration
}

// Fetcher drives headless Chrome through chromedp. It serves two purposes:
// fully rendered page bodies, and final-URL resolution for pages that
// redirect via JavaScript or meta refresh.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless fetcher backed by chromedp.
func New(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 5 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates with a headless browser and returns the rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var html string
	err := f.run(ctx, url, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err != nil {
		return nil, err
	}
	return []byte(html), nil
}

// Resolve navigates to url, waits for client-side redirects to settle, and
// returns the final location.
func (f *Fetcher) Resolve(ctx context.Context, url string) (string, error) {
	var finalURL string
	err := f.run(ctx, url, chromedp.Location(&finalURL))
	if err != nil {
		return "", err
	}
	return finalURL, nil
}

func (f *Fetcher) run(ctx context.Context, url string, capture chromedp.Action) error {
	if err := f.acquire(ctx); err != nil {
		return err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	// The browser context descends from the allocator, not the caller, so
	// propagate the caller's cancellation by hand.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout+f.cfg.SettleDelay)
	defer cancel()

	actions := []chromedp.Action{
		network.Enable(),
	}
	if f.cfg.UserAgent != "" {
		actions = append(actions, network.SetExtraHTTPHeaders(map[string]interface{}{
			"User-Agent": f.cfg.UserAgent,
		}))
	}
	actions = append(actions,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		capture,
	)
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return fetcher.ClassifyErr(fmt.Errorf("chromedp run: %w", err))
	}
	return nil
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return &fetcher.PermanentError{Err: ctx.Err()}
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	<-f.limiter
}
