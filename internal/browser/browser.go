// Package browser renders Coursera pages in headless Chrome for content that
// the REST API does not expose. One Handle lives inside each session's
// toolset; the Chrome process is launched at most once and reused by every
// render in that session.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Renderer is the page-rendering capability tool handlers depend on. Tests
// substitute a fake; production uses *Handle.
type Renderer interface {
	Render(ctx context.Context, pageURL, waitSelector string) (string, error)
	Close() error
}

// Handle owns one lazily-launched Chrome process. Safe for concurrent use;
// each Render opens and tears down its own tab.
type Handle struct {
	cauth      string
	chromePath string
	timeout    time.Duration

	mu           sync.Mutex
	started      bool
	closed       bool
	initErr      error
	browserCtx   context.Context
	cancelChrome context.CancelFunc
	cancelAlloc  context.CancelFunc
}

var _ Renderer = (*Handle)(nil)

// New returns an unstarted Handle. Chrome launches on the first Render.
func New(cauth, chromePath string, timeout time.Duration) *Handle {
	if timeout <= 0 {
		timeout = 40 * time.Second
	}
	return &Handle{cauth: cauth, chromePath: chromePath, timeout: timeout}
}

// browser returns the shared browser context, launching Chrome exactly once.
// A failed launch is sticky; the session surfaces the same error on every
// later render rather than leaking half-started processes.
func (h *Handle) browser() (context.Context, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, fmt.Errorf("browser handle is closed")
	}
	if h.started {
		return h.browserCtx, h.initErr
	}
	h.started = true

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(userAgent),
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if h.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(h.chromePath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelChrome := chromedp.NewContext(allocCtx)

	// Force the browser process up now so launch failures surface here, not
	// in the middle of the first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelChrome()
		cancelAlloc()
		h.initErr = fmt.Errorf("failed to launch chrome: %w", err)
		return nil, h.initErr
	}

	h.browserCtx = browserCtx
	h.cancelChrome = cancelChrome
	h.cancelAlloc = cancelAlloc
	return browserCtx, nil
}

// Render navigates a fresh tab to pageURL with the session cookie installed,
// waits for waitSelector (best effort) and returns the rendered HTML. The tab
// is always closed; the browser stays up for the next render.
func (h *Handle) Render(_ context.Context, pageURL, waitSelector string) (string, error) {
	browserCtx, err := h.browser()
	if err != nil {
		return "", err
	}

	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("bad page URL %q: %w", pageURL, err)
	}

	tabCtx, closeTab := chromedp.NewContext(browserCtx)
	defer closeTab()
	runCtx, cancel := context.WithTimeout(tabCtx, h.timeout)
	defer cancel()

	var html string
	actions := []chromedp.Action{
		h.setCookie(u.Hostname()),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
	}
	if waitSelector != "" {
		// Content selectors are a scraping heuristic against an unstable
		// page; give them a short grace period instead of failing the whole
		// render when the markup moved.
		waitCtx, waitCancel := context.WithTimeout(runCtx, 10*time.Second)
		defer waitCancel()
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			_ = chromedp.WaitVisible(waitSelector, chromedp.ByQuery).Do(mergeDeadline(ctx, waitCtx))
			return nil
		}))
	}
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", pageURL, err)
	}
	return html, nil
}

// mergeDeadline runs the CDP context but with the shorter wait deadline.
func mergeDeadline(cdpCtx, deadlineCtx context.Context) context.Context {
	merged, cancel := context.WithCancel(cdpCtx)
	go func() {
		defer cancel()
		select {
		case <-deadlineCtx.Done():
		case <-merged.Done():
		}
	}()
	return merged
}

// setCookie installs the CAUTH cookie for the page's registrable domain
// before navigation.
func (h *Handle) setCookie(host string) chromedp.Action {
	domain := host
	if strings.HasSuffix(host, "coursera.org") {
		domain = ".coursera.org"
	}
	return chromedp.ActionFunc(func(ctx context.Context) error {
		expires := cdp.TimeSinceEpoch(time.Now().Add(24 * time.Hour))
		return network.SetCookie("CAUTH", h.cauth).
			WithDomain(domain).
			WithPath("/").
			WithHTTPOnly(true).
			WithSecure(true).
			WithExpires(&expires).
			Do(ctx)
	})
}

// Close shuts Chrome down. Idempotent; called once at session teardown.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	if h.cancelChrome != nil {
		// Ask the browser to exit cleanly before cancelling the allocator.
		_ = chromedp.Cancel(h.browserCtx)
		h.cancelChrome()
	}
	if h.cancelAlloc != nil {
		h.cancelAlloc()
	}
	h.browserCtx = nil
	return nil
}
