// Package auto reads links from the served markup and promotes to a
// rendering browser only when the page looks script-built.
package auto

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/unfurl/internal/discovery/detector"
	"github.com/JakeFAU/unfurl/internal/discovery/static"
	"github.com/JakeFAU/unfurl/internal/model"
)

// Promoter decides whether the static result should be replaced by a
// rendered one.
type Promoter interface {
	ShouldPromote(resp model.FetchResponse, anchors int) bool
}

// Discoverer probes with a plain fetch and escalates to browser discovery.
type Discoverer struct {
	fetcher  model.Fetcher
	browser  model.Discoverer
	promoter Promoter
	logger   *zap.Logger
}

// New builds a Discoverer. A nil promoter uses the default heuristic; a nil
// browser disables promotion.
func New(fetcher model.Fetcher, browser model.Discoverer, promoter Promoter, logger *zap.Logger) *Discoverer {
	if promoter == nil {
		promoter = detector.NewHeuristic(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{fetcher: fetcher, browser: browser, promoter: promoter, logger: logger}
}

// Discover implements model.Discoverer. A failed promotion keeps the static
// links.
func (d *Discoverer) Discover(ctx context.Context, pageURL string) ([]string, error) {
	resp, err := d.fetcher.Fetch(ctx, model.FetchRequest{URL: pageURL})
	if err != nil {
		e := model.NewError(model.KindDiscoveryFailure, pageURL, err)
		e.Status = model.StatusOf(err)
		return nil, e
	}
	links, err := static.Links(resp)
	if err != nil {
		return nil, err
	}
	if d.browser == nil || !d.promoter.ShouldPromote(resp, len(links)) {
		return links, nil
	}

	d.logger.Debug("promoting discovery to browser", zap.String("url", pageURL), zap.Int("static_links", len(links)))
	rendered, err := d.browser.Discover(ctx, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		d.logger.Warn("browser discovery failed; using static links", zap.String("url", pageURL), zap.Error(err))
		return links, nil
	}
	return rendered, nil
}

var _ model.Discoverer = (*Discoverer)(nil)
