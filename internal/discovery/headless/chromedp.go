// Package headless discovers anchor links by rendering a page in headless
// Chrome via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/unfurl/internal/model"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultIdleTimeout       = 5 * time.Second

	anchorsScript = `Array.from(document.querySelectorAll('a[href]')).map(a => a.href)`
)

// Config controls the browser session.
type Config struct {
	UserAgent string
	Headers   http.Header
	// NavigationTimeout bounds the whole session.
	NavigationTimeout time.Duration
	// IdleTimeout caps the wait for network idle after load. Anchors are read
	// once it expires even if the network is still busy.
	IdleTimeout time.Duration
	// ExecPath points at a Chrome binary; empty uses chromedp's lookup.
	ExecPath string
}

// Discoverer implements model.Discoverer with a fresh browser per call.
type Discoverer struct {
	cfg       Config
	allocOpts []chromedp.ExecAllocatorOption
}

// New creates a chromedp-backed Discoverer.
func New(cfg Config) *Discoverer {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return &Discoverer{cfg: cfg, allocOpts: opts}
}

// Discover launches a browser, navigates to pageURL, waits for the network
// to go idle, and returns every anchor href as an absolute URL. The browser
// is torn down before returning. Any failure is DISCOVERY_FAILURE.
func (d *Discoverer) Discover(ctx context.Context, pageURL string) ([]string, error) {
	if err := model.ValidateFetchURL(pageURL); err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, d.allocOpts...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, d.navTimeout())
	defer cancel()

	watch := newSessionWatch()
	chromedp.ListenTarget(taskCtx, watch.captureEvent)

	var links []string
	actions := []chromedp.Action{
		d.sessionSetupAction(),
		chromedp.Navigate(pageURL),
		d.waitNetworkIdle(watch),
		chromedp.Evaluate(anchorsScript, &links),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, discoveryError(pageURL, 0, fmt.Errorf("chromedp run: %w", err))
	}

	if status := watch.status(); status >= 400 {
		return nil, discoveryError(pageURL, status, model.StatusError(pageURL, status))
	}
	return compact(links), nil
}

func (d *Discoverer) sessionSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if d.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(d.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		headers := cloneHeader(d.cfg.Headers)
		headers.Del("User-Agent")
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (d *Discoverer) waitNetworkIdle(watch *sessionWatch) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		timer := time.NewTimer(d.idleTimeout())
		defer timer.Stop()
		select {
		case <-watch.idle:
		case <-timer.C:
		case <-ctx.Done():
			return fmt.Errorf("wait for network idle: %w", ctx.Err())
		}
		return nil
	})
}

func (d *Discoverer) navTimeout() time.Duration {
	if d.cfg.NavigationTimeout > 0 {
		return d.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

func (d *Discoverer) idleTimeout() time.Duration {
	if d.cfg.IdleTimeout > 0 {
		return d.cfg.IdleTimeout
	}
	return defaultIdleTimeout
}

// sessionWatch tracks the seed document's status and the first network-idle
// lifecycle event that follows it. Only documents loaded into the top frame
// count; the latest one wins so a redirected seed reports its final status.
type sessionWatch struct {
	mu        sync.Mutex
	topFrame  cdp.FrameID
	docStatus int
	docSeen   bool
	idle      chan struct{}
	idleOnce  sync.Once
}

func newSessionWatch() *sessionWatch {
	return &sessionWatch{idle: make(chan struct{})}
}

func (w *sessionWatch) captureEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		w.captureResponse(e)
	case *page.EventLifecycleEvent:
		w.captureLifecycle(e)
	}
}

func (w *sessionWatch) captureResponse(e *network.EventResponseReceived) {
	if e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	// The first document response belongs to the seed navigation's frame.
	if !w.docSeen {
		w.docSeen = true
		w.topFrame = e.FrameID
	}
	if e.FrameID == w.topFrame {
		w.docStatus = int(e.Response.Status)
	}
}

func (w *sessionWatch) captureLifecycle(e *page.EventLifecycleEvent) {
	if e.Name != "networkIdle" {
		return
	}
	w.mu.Lock()
	seen := w.docSeen
	w.mu.Unlock()
	if seen {
		w.idleOnce.Do(func() { close(w.idle) })
	}
}

func (w *sessionWatch) status() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.docStatus
}

func discoveryError(pageURL string, status int, err error) error {
	e := model.NewError(model.KindDiscoveryFailure, pageURL, err)
	e.Status = status
	return e
}

func compact(links []string) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
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

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}

var _ model.Discoverer = (*Discoverer)(nil)

// ErrNoBrowser is returned by Available when no Chrome binary can be found.
var ErrNoBrowser = errors.New("no chrome binary found")

var browserNames = []string{
	"headless_shell",
	"headless-shell",
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"google-chrome-beta",
	"google-chrome-unstable",
}

// Available reports whether a Chrome binary can be launched.
func (d *Discoverer) Available() error {
	if d.cfg.ExecPath != "" {
		if _, err := exec.LookPath(d.cfg.ExecPath); err != nil {
			return fmt.Errorf("%w: %s", ErrNoBrowser, d.cfg.ExecPath)
		}
		return nil
	}
	for _, name := range browserNames {
		if _, err := exec.LookPath(name); err == nil {
			return nil
		}
	}
	return ErrNoBrowser
}
