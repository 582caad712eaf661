// Package pipeline composes fetch, parse, enrich, and normalize into a single
// per-page operation.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/unfurl/internal/metrics"
	"github.com/JakeFAU/unfurl/internal/model"
	"github.com/JakeFAU/unfurl/internal/normalize"
	"github.com/JakeFAU/unfurl/internal/oembed"
	"github.com/JakeFAU/unfurl/internal/parser"
)

// Pipeline runs the page stages sequentially. It holds no per-page state
// and is safe for concurrent use.
type Pipeline struct {
	fetcher  model.Fetcher
	enricher *oembed.Enricher
	opts     model.Opts
	logger   *zap.Logger
}

// New builds a Pipeline around fetcher. opts is treated as read-only.
func New(fetcher model.Fetcher, opts model.Opts, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fetcher:  fetcher,
		enricher: oembed.New(fetcher, logger.Named("oembed")),
		opts:     opts,
		logger:   logger,
	}
}

// Run produces the normalized Metadata for pageURL. Fetch, parse, and
// normalize failures stop the page and are returned as *model.StageError;
// enrichment failures are logged and skipped.
func (p *Pipeline) Run(ctx context.Context, pageURL string) (model.Metadata, error) {
	log := p.logger.With(zap.String("url", pageURL))

	start := time.Now()
	resp, err := p.fetcher.Fetch(ctx, model.FetchRequest{URL: pageURL})
	p.observe(model.StageFetch, start)
	if err != nil {
		return p.fail(pageURL, model.StageFetch, err, 0)
	}
	log.Debug("fetched page", zap.Int("status", resp.StatusCode), zap.Int("bytes", len(resp.Body)))

	start = time.Now()
	pc, err := parser.Parse(resp.Body, resp.ContentType())
	p.observe(model.StageParse, start)
	if err != nil {
		var perr *model.Error
		if errors.As(err, &perr) && perr.URL == "" {
			perr.URL = resp.URL
		}
		return p.fail(pageURL, model.StageParse, err, len(resp.Body))
	}
	md := parser.Extract(pc, resp.URL)
	log.Debug("parsed page", zap.String("charset", pc.Charset), zap.Int("tags", len(pc.Tags)))

	start = time.Now()
	md = p.enricher.Enrich(ctx, md, pc, p.opts)
	p.observe(model.StageEnrich, start)

	start = time.Now()
	md, err = normalize.Normalize(md, pc, resp.URL)
	p.observe(model.StageNormalize, start)
	if err != nil {
		return p.fail(pageURL, model.StageNormalize, err, len(resp.Body))
	}

	metrics.ObservePage(pageURL, "ok", len(resp.Body))
	return md, nil
}

func (p *Pipeline) fail(pageURL string, stage model.Stage, err error, size int) (model.Metadata, error) {
	metrics.ObservePage(pageURL, "failed", size)
	return model.Metadata{}, &model.StageError{Stage: stage, Err: err}
}

func (p *Pipeline) observe(stage model.Stage, start time.Time) {
	metrics.ObserveStage(string(stage), time.Since(start))
}
