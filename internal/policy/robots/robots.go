// Package robots gates crawl candidates on robots.txt directives.
package robots

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/unfurl/internal/model"
)

// Policy reports whether a URL may be crawled.
type Policy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Enforcer enforces robots.txt directives per host. robots.txt documents are
// fetched through the crawl's Fetcher and cached for the Enforcer's lifetime.
type Enforcer struct {
	fetcher   model.Fetcher
	cache     sync.Map
	userAgent string
	logger    *zap.Logger
}

// New builds a Policy. When respect is false every URL is allowed.
func New(respect bool, fetcher model.Fetcher, userAgent string, logger *zap.Logger) Policy {
	if !respect {
		return allowAll{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{fetcher: fetcher, userAgent: userAgent, logger: logger}
}

// Allowed implements Policy. Unreachable robots.txt files allow access; a
// robots.txt answered with a 5xx status disallows the whole host.
func (r *Enforcer) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	data, err := r.load(ctx, parsed)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	target := parsed.EscapedPath()
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	return data.TestAgent(target, r.userAgent)
}

func (r *Enforcer) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	if data, ok := r.cache.Load(hostKey); ok {
		cached, assertOK := data.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", data)
		}
		return cached, nil
	}

	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	status, body := 0, []byte(nil)
	resp, err := r.fetcher.Fetch(ctx, model.FetchRequest{URL: robotsURL.String()})
	switch {
	case err == nil:
		status, body = resp.StatusCode, resp.Body
	case model.StatusOf(err) != 0:
		status = model.StatusOf(err)
	default:
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	r.cache.Store(hostKey, data)
	return data, nil
}

type allowAll struct{}

func (allowAll) Allowed(context.Context, string) bool { return true }
