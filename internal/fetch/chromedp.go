// Package fetch retrieves fully rendered inventory pages. The listing grid
// is populated client-side, so fetching means driving a headless browser
// and waiting for the page to settle before snapshotting the DOM.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rcwatch/rcwatch/internal/watch"
)

// Fetcher retrieves the rendered content of a single URL. Implementations
// do not retry; the external scheduler provides the retry cadence.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (watch.Page, error)
	Close()
}

// Config controls the behavior of the chromedp fetcher.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	Settle      time.Duration
	MaxParallel int
	HostQPS     float64
}

// ChromedpFetcher implements Fetcher using a shared headless Chrome
// allocator with one tab per fetch.
type ChromedpFetcher struct {
	cfg          Config
	logger       *zap.Logger
	allocator    context.Context
	allocCancel  context.CancelFunc
	sem          chan struct{}
	hostLimiters sync.Map
}

// NewChromedp creates a fetcher backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) (*ChromedpFetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 3 * time.Second
	}
	var sem chan struct{}
	if cfg.MaxParallel > 0 {
		sem = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &ChromedpFetcher{
		cfg:         cfg,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		sem:         sem,
	}, nil
}

// Close cancels the allocator context, tearing down the browser.
func (f *ChromedpFetcher) Close() {
	f.allocCancel()
}

// Fetch navigates to the URL, waits for the document plus a settle period so
// the client-side listing grid can populate, and returns the rendered DOM.
func (f *ChromedpFetcher) Fetch(ctx context.Context, rawURL string) (watch.Page, error) {
	if err := f.acquire(ctx); err != nil {
		return watch.Page{}, err
	}
	defer f.release()

	if err := f.waitHostBudget(ctx, rawURL); err != nil {
		return watch.Page{}, fmt.Errorf("%w: rate limit wait: %v", watch.ErrFetchUnavailable, err)
	}

	tabCtx, cancelTab := chromedp.NewContext(f.allocator)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, f.cfg.Timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := f.run(taskCtx, rawURL)
	if err != nil {
		return watch.Page{}, classifyFetchError(err)
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(rawURL, finalURL)
	page := watch.Page{
		URL:        rawURL,
		FinalURL:   responseURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		FetchedAt:  start.UTC(),
		Duration:   time.Since(start),
	}
	if Blocked(page.StatusCode, page.Body) {
		return watch.Page{}, fmt.Errorf("%w: status %d from %s", watch.ErrFetchBlocked, page.StatusCode, page.FinalURL)
	}
	return page, nil
}

func (f *ChromedpFetcher) run(ctx context.Context, rawURL string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		network.Enable(),
	}
	if f.cfg.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(f.cfg.UserAgent))
	}
	actions = append(actions,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *ChromedpFetcher) acquire(ctx context.Context) error {
	if f.sem == nil {
		return nil
	}
	select {
	case f.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: fetch slot wait: %v", watch.ErrFetchTimeout, ctx.Err())
	}
}

func (f *ChromedpFetcher) release() {
	if f.sem == nil {
		return
	}
	select {
	case <-f.sem:
	default:
	}
}

func (f *ChromedpFetcher) waitHostBudget(ctx context.Context, rawURL string) error {
	if f.cfg.HostQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := f.hostLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(f.cfg.HostQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	return limiter.Wait(ctx)
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// classifyFetchError maps a chromedp failure onto the watch error taxonomy.
func classifyFetchError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", watch.ErrFetchTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", watch.ErrFetchTimeout, err)
	default:
		return fmt.Errorf("%w: %v", watch.ErrFetchUnavailable, err)
	}
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		headers.Add(key, fmt.Sprint(value))
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.headers = headers
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, responseURL := m.status, cloneHeader(m.headers), m.url
	m.mu.RUnlock()

	switch {
	case responseURL != "":
	case finalURL != "":
		responseURL = finalURL
	default:
		responseURL = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, responseURL
}

func cloneHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}
