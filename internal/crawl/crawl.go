// Package crawl runs the page pipeline over the same-origin links reachable
// from a seed URL.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/unfurl/internal/metrics"
	"github.com/JakeFAU/unfurl/internal/model"
)

// PageRunner produces the Metadata for one page.
type PageRunner interface {
	Run(ctx context.Context, pageURL string) (model.Metadata, error)
}

// RobotsPolicy reports whether a URL may be crawled.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// RateLimiter paces requests per host.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// IDGenerator mints crawl identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Config bounds a crawl.
type Config struct {
	MaxPages       int
	Concurrency    int
	Depth          int
	IncludeSeed    bool
	ReportFailures bool
}

// ConfigFromOpts extracts the crawl settings from opts.
func ConfigFromOpts(opts model.Opts) Config {
	return Config{
		MaxPages:       opts.MaxPages,
		Concurrency:    opts.Concurrency,
		Depth:          opts.Depth,
		IncludeSeed:    opts.IncludeSeed,
		ReportFailures: opts.ReportFailures,
	}
}

// Deps are the collaborators used by an Orchestrator. Discoverer and Pages
// are required; the rest fall back to permissive no-ops.
type Deps struct {
	Discoverer model.Discoverer
	Pages      PageRunner
	Robots     RobotsPolicy
	Limiter    RateLimiter
	IDs        IDGenerator
	Logger     *zap.Logger
}

// Orchestrator discovers links from a seed and fans the page pipeline out
// over a bounded pool.
type Orchestrator struct {
	cfg        Config
	discoverer model.Discoverer
	pages      PageRunner
	robots     RobotsPolicy
	limiter    RateLimiter
	ids        IDGenerator
	logger     *zap.Logger
}

// New builds an Orchestrator. Non-positive limits fall back to the defaults.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = model.DefaultMaxPages
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = model.DefaultConcurrency
	}
	if cfg.Depth <= 0 {
		cfg.Depth = model.DefaultDepth
	}
	o := &Orchestrator{
		cfg:        cfg,
		discoverer: deps.Discoverer,
		pages:      deps.Pages,
		robots:     deps.Robots,
		limiter:    deps.Limiter,
		ids:        deps.IDs,
		logger:     deps.Logger,
	}
	if o.robots == nil {
		o.robots = allowAll{}
	}
	if o.limiter == nil {
		o.limiter = noWait{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// Run crawls from seed. Seed-level failures are returned as errors. Subpage
// failures are skipped, and recorded in CrawlResult.Failures when
// ReportFailures is set. If ctx ends mid-crawl, the pages completed so far
// are returned with Canceled set, alongside the context error.
func (o *Orchestrator) Run(ctx context.Context, seed string) (*model.CrawlResult, error) {
	if err := model.ValidateFetchURL(seed); err != nil {
		metrics.ObserveCrawl("failed")
		return nil, err
	}
	seedURL, _ := canonicalLink(seed)

	result := &model.CrawlResult{Seed: seed, Pages: []model.Metadata{}}
	if o.ids != nil {
		id, err := o.ids.NewID()
		if err != nil {
			o.logger.Warn("crawl id unavailable", zap.Error(err))
		}
		result.CrawlID = id
	}
	log := o.logger.With(zap.String("crawl_id", result.CrawlID), zap.String("seed", seed))
	log.Info("crawl started",
		zap.Int("max_pages", o.cfg.MaxPages),
		zap.Int("concurrency", o.cfg.Concurrency),
		zap.Int("depth", o.cfg.Depth),
	)

	visited := make(map[string]struct{})
	budget := o.cfg.MaxPages
	frontier := []string{seed}

	for level := 1; level <= o.cfg.Depth && budget > 0 && len(frontier) > 0; level++ {
		var candidates []string
		if level == 1 && o.cfg.IncludeSeed {
			candidates = append(candidates, seedURL.String())
		}
		for _, src := range frontier {
			links, err := o.discoverer.Discover(ctx, src)
			if err != nil {
				if ctx.Err() != nil {
					return o.canceled(ctx, log, result)
				}
				if level == 1 {
					metrics.ObserveCrawl("failed")
					log.Error("seed discovery failed", zap.Error(err))
					return nil, discoveryFailure(seed, err)
				}
				log.Warn("discovery failed", zap.String("url", src), zap.Error(err))
				o.recordFailure(result, src, err)
				continue
			}
			candidates = append(candidates, links...)
		}

		batch, found := o.admit(ctx, seedURL, candidates, visited, budget)
		result.Discovered += found
		metrics.ObserveDiscovered(found)
		budget -= len(batch)
		log.Debug("level admitted",
			zap.Int("level", level),
			zap.Int("discovered", found),
			zap.Int("admitted", len(batch)),
		)

		frontier = o.fanOut(ctx, log, batch, result)
		if ctx.Err() != nil {
			return o.canceled(ctx, log, result)
		}
	}

	metrics.ObserveCrawl("ok")
	log.Info("crawl finished",
		zap.Int("pages", len(result.Pages)),
		zap.Int("failures", len(result.Failures)),
		zap.Int("discovered", result.Discovered),
	)
	return result, nil
}

// admit filters candidates to unvisited same-host links allowed by robots,
// marks them visited, and caps them to budget. It returns the admitted links
// in discovery order and the count of new same-host links seen.
func (o *Orchestrator) admit(
	ctx context.Context,
	seed *url.URL,
	candidates []string,
	visited map[string]struct{},
	budget int,
) ([]string, int) {
	var batch []string
	found := 0
	for _, raw := range candidates {
		u, ok := canonicalLink(raw)
		if !ok || !sameHost(seed, u) {
			continue
		}
		key := u.String()
		if _, seen := visited[key]; seen {
			continue
		}
		visited[key] = struct{}{}
		found++
		if len(batch) >= budget {
			continue
		}
		if !o.robots.Allowed(ctx, key) {
			o.logger.Debug("disallowed by robots.txt", zap.String("url", key))
			continue
		}
		batch = append(batch, key)
	}
	return batch, found
}

// fanOut runs the page pipeline over batch with at most Concurrency pages in
// flight. Successful pages are appended to result in batch order and their
// URLs returned as the next frontier.
func (o *Orchestrator) fanOut(ctx context.Context, log *zap.Logger, batch []string, result *model.CrawlResult) []string {
	pages := make([]*model.Metadata, len(batch))
	failures := make([]error, len(batch))

	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, link := range batch {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()

			if err := o.limiter.Wait(ctx, link); err != nil {
				failures[i] = &model.StageError{Stage: model.StageFetch, Err: err}
				return nil
			}
			md, err := o.pages.Run(ctx, link)
			if err != nil {
				failures[i] = err
				return nil
			}
			pages[i] = &md
			return nil
		})
	}
	_ = g.Wait()

	var next []string
	for i, link := range batch {
		switch {
		case pages[i] != nil:
			result.Pages = append(result.Pages, *pages[i])
			next = append(next, link)
		case failures[i] != nil && ctx.Err() == nil:
			log.Warn("page failed",
				zap.String("url", link),
				zap.String("kind", string(model.KindOf(failures[i]))),
				zap.Int("status", model.StatusOf(failures[i])),
				zap.Error(failures[i]),
			)
			o.recordFailure(result, link, failures[i])
		}
	}
	return next
}

func (o *Orchestrator) recordFailure(result *model.CrawlResult, pageURL string, err error) {
	if !o.cfg.ReportFailures {
		return
	}
	stage := model.StageDiscover
	var serr *model.StageError
	if errors.As(err, &serr) {
		stage = serr.Stage
	}
	result.Failures = append(result.Failures, model.Failure{
		URL:     pageURL,
		Stage:   stage,
		Kind:    model.KindOf(err),
		Status:  model.StatusOf(err),
		Message: err.Error(),
	})
}

func (o *Orchestrator) canceled(ctx context.Context, log *zap.Logger, result *model.CrawlResult) (*model.CrawlResult, error) {
	result.Canceled = true
	metrics.ObserveCrawl("canceled")
	log.Warn("crawl canceled", zap.Int("pages", len(result.Pages)), zap.Error(ctx.Err()))
	return result, fmt.Errorf("crawl canceled: %w", ctx.Err())
}

func discoveryFailure(seed string, err error) error {
	if errors.Is(err, model.ErrDiscoveryFailure) {
		return err
	}
	e := model.NewError(model.KindDiscoveryFailure, seed, err)
	e.Status = model.StatusOf(err)
	return e
}

type allowAll struct{}

func (allowAll) Allowed(context.Context, string) bool { return true }

type noWait struct{}

func (noWait) Wait(context.Context, string) error { return nil }
