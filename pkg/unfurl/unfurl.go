// Package unfurl resolves URLs into page metadata. Unfurl crawls the
// same-origin pages linked from a seed; Client.Page unfurls a single page.
package unfurl

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/unfurl/internal/crawl"
	autodiscovery "github.com/JakeFAU/unfurl/internal/discovery/auto"
	headlessdiscovery "github.com/JakeFAU/unfurl/internal/discovery/headless"
	staticdiscovery "github.com/JakeFAU/unfurl/internal/discovery/static"
	collyfetcher "github.com/JakeFAU/unfurl/internal/fetcher/colly"
	"github.com/JakeFAU/unfurl/internal/id/uuid"
	"github.com/JakeFAU/unfurl/internal/model"
	"github.com/JakeFAU/unfurl/internal/pipeline"
	"github.com/JakeFAU/unfurl/internal/policy/ratelimit"
	"github.com/JakeFAU/unfurl/internal/policy/robots"
)

// Public aliases for the result and option types.
type (
	Metadata      = model.Metadata
	OEmbed        = model.OEmbed
	CrawlResult   = model.CrawlResult
	Failure       = model.Failure
	Opts          = model.Opts
	Error         = model.Error
	Kind          = model.Kind
	FetchFunc     = model.FetchFunc
	FetchRequest  = model.FetchRequest
	FetchResponse = model.FetchResponse
	Discoverer    = model.Discoverer
	DiscoveryMode = model.DiscoveryMode
)

// Discovery modes.
const (
	DiscoveryHeadless = model.DiscoveryHeadless
	DiscoveryStatic   = model.DiscoveryStatic
	DiscoveryAuto     = model.DiscoveryAuto
)

// Sentinel errors, matched with errors.Is.
var (
	ErrBadOptions       = model.ErrBadOptions
	ErrBadHTTPStatus    = model.ErrBadHTTPStatus
	ErrTimeout          = model.ErrTimeout
	ErrTooLarge         = model.ErrTooLarge
	ErrTooManyRedirects = model.ErrTooManyRedirects
	ErrNetworkFailure   = model.ErrNetworkFailure
	ErrParseFailure     = model.ErrParseFailure
	ErrMalformedURL     = model.ErrMalformedURL
	ErrDiscoveryFailure = model.ErrDiscoveryFailure
)

// DefaultOpts returns a fresh copy of the default options.
func DefaultOpts() Opts { return model.DefaultOpts() }

type settings struct {
	opts        Opts
	discoverer  Discoverer
	logger      *zap.Logger
	browserPath string
}

// Option configures a Client.
type Option func(*settings)

// WithOpts replaces the options wholesale.
func WithOpts(opts Opts) Option {
	return func(s *settings) { s.opts = opts }
}

// WithFetch substitutes the HTTP transport.
func WithFetch(fetch FetchFunc) Option {
	return func(s *settings) { s.opts.Fetch = fetch }
}

// WithDiscoverer substitutes link discovery.
func WithDiscoverer(d Discoverer) Option {
	return func(s *settings) { s.discoverer = d }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithBrowserPath points headless discovery at a Chrome binary.
func WithBrowserPath(path string) Option {
	return func(s *settings) { s.browserPath = path }
}

// Client is a reusable unfurler. It is safe for concurrent use.
type Client struct {
	pages   *pipeline.Pipeline
	crawler *crawl.Orchestrator
}

// New validates the options and wires a Client. Invalid options fail with
// BAD_OPTIONS.
func New(options ...Option) (*Client, error) {
	s := settings{opts: model.DefaultOpts()}
	for _, opt := range options {
		opt(&s)
	}
	if err := s.opts.Validate(); err != nil {
		return nil, err
	}
	logger := s.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var fetcher model.Fetcher
	if s.opts.Fetch != nil {
		fetcher = s.opts.Fetch.Limited(s.opts)
	} else {
		fetcher = collyfetcher.New(collyfetcher.ConfigFromOpts(s.opts))
	}

	discoverer := s.discoverer
	if discoverer == nil {
		discoverer = newDiscoverer(s.opts, fetcher, s.browserPath, logger)
	}

	pages := pipeline.New(fetcher, s.opts, logger.Named("pipeline"))
	crawler := crawl.New(crawl.ConfigFromOpts(s.opts), crawl.Deps{
		Discoverer: discoverer,
		Pages:      pages,
		Robots:     robots.New(s.opts.RespectRobots, fetcher, userAgent(s.opts), logger.Named("robots")),
		Limiter:    ratelimit.New(ratelimit.Config{RequestsPerSecond: s.opts.RatePerHost}),
		IDs:        uuid.New(),
		Logger:     logger.Named("crawl"),
	})

	return &Client{pages: pages, crawler: crawler}, nil
}

// Unfurl crawls the same-origin pages linked from rawURL.
func (c *Client) Unfurl(ctx context.Context, rawURL string) (*CrawlResult, error) {
	return c.crawler.Run(ctx, rawURL)
}

// Page unfurls rawURL alone, without discovery.
func (c *Client) Page(ctx context.Context, rawURL string) (Metadata, error) {
	md, err := c.pages.Run(ctx, rawURL)
	if err != nil {
		var serr *model.StageError
		if errors.As(err, &serr) {
			return Metadata{}, serr.Err
		}
		return Metadata{}, err
	}
	return md, nil
}

// Unfurl crawls rawURL with a one-off Client.
func Unfurl(ctx context.Context, rawURL string, options ...Option) (*CrawlResult, error) {
	c, err := New(options...)
	if err != nil {
		return nil, err
	}
	return c.Unfurl(ctx, rawURL)
}

// newDiscoverer picks link discovery for opts. Browser-backed modes fall
// back to static discovery when no browser is installed.
func newDiscoverer(opts Opts, fetcher model.Fetcher, browserPath string, logger *zap.Logger) Discoverer {
	static := staticdiscovery.New(fetcher)
	if opts.Discovery == model.DiscoveryStatic {
		return static
	}
	headers := opts.HTTPHeader()
	browser := headlessdiscovery.New(headlessdiscovery.Config{
		UserAgent:         headers.Get("User-Agent"),
		Headers:           headers,
		NavigationTimeout: opts.NavigationTimeout,
		IdleTimeout:       opts.IdleTimeout,
		ExecPath:          browserPath,
	})
	if err := browser.Available(); err != nil {
		logger.Warn("headless discovery unavailable; using static discovery", zap.Error(err))
		return static
	}
	if opts.Discovery == model.DiscoveryAuto {
		return autodiscovery.New(fetcher, browser, nil, logger.Named("discovery"))
	}
	return browser
}

func userAgent(opts Opts) string {
	if ua := opts.HTTPHeader().Get("User-Agent"); ua != "" {
		return ua
	}
	return model.DefaultUserAgent
}
