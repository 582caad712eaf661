// Package oembed enriches page metadata from a page's oEmbed discovery link.
package oembed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/unfurl/internal/metrics"
	"github.com/JakeFAU/unfurl/internal/model"
	"github.com/JakeFAU/unfurl/internal/parser"
)

// Enricher fetches oEmbed JSON through the page Fetcher and merges it.
type Enricher struct {
	fetcher model.Fetcher
	logger  *zap.Logger
}

// New builds an Enricher.
func New(fetcher model.Fetcher, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{fetcher: fetcher, logger: logger}
}

// Enrich merges oEmbed fields into md. It never fails: when enrichment is
// disabled, absent, or broken, md is returned unchanged.
func (e *Enricher) Enrich(ctx context.Context, md model.Metadata, pc *parser.ParseContext, opts model.Opts) model.Metadata {
	if !opts.OEmbed || pc == nil || !pc.IsOEmbed || pc.OEmbedURL == "" {
		metrics.ObserveOEmbed(metrics.OEmbedSkipped)
		return md
	}
	payload, endpoint, err := e.fetch(ctx, md.URL, pc.OEmbedURL)
	if err != nil {
		metrics.ObserveOEmbed(metrics.OEmbedFailed)
		e.logger.Warn("oembed enrichment failed",
			zap.String("url", md.URL),
			zap.String("endpoint", endpoint),
			zap.String("kind", string(model.KindOf(err))),
			zap.Error(err),
		)
		return md
	}
	metrics.ObserveOEmbed(metrics.OEmbedMerged)
	return Merge(md, payload)
}

func (e *Enricher) fetch(ctx context.Context, pageURL, href string) (*model.OEmbed, string, error) {
	endpoint, err := resolveEndpoint(pageURL, href)
	if err != nil {
		return nil, href, err
	}
	resp, err := e.fetcher.Fetch(ctx, model.FetchRequest{URL: endpoint})
	if err != nil {
		return nil, endpoint, fmt.Errorf("fetch oembed: %w", err)
	}
	payload, err := Decode(resp.Body)
	if err != nil {
		return nil, endpoint, model.NewError(model.KindParseFailure, endpoint, err)
	}
	return payload, endpoint, nil
}

// Decode parses an oEmbed JSON document and unescapes its text fields.
func Decode(body []byte) (*model.OEmbed, error) {
	var payload model.OEmbed
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode oembed json: %w", err)
	}
	payload.Title = html.UnescapeString(strings.TrimSpace(payload.Title))
	payload.Description = html.UnescapeString(strings.TrimSpace(payload.Description))
	payload.AuthorName = html.UnescapeString(strings.TrimSpace(payload.AuthorName))
	payload.ProviderName = html.UnescapeString(strings.TrimSpace(payload.ProviderName))
	payload.ThumbnailURL = strings.TrimSpace(payload.ThumbnailURL)
	return &payload, nil
}

// Merge applies oEmbed precedence: non-empty title, description, and
// thumbnail override page values; empty ones never do.
func Merge(md model.Metadata, payload *model.OEmbed) model.Metadata {
	out := md.Clone()
	if payload == nil {
		return out
	}
	p := *payload
	out.OEmbed = &p
	if p.Title != "" {
		out.Title = p.Title
	}
	if p.Description != "" {
		out.Description = p.Description
	}
	if p.ThumbnailURL != "" {
		images := make([]string, 0, len(out.Images)+1)
		images = append(images, p.ThumbnailURL)
		for _, img := range out.Images {
			if img != p.ThumbnailURL {
				images = append(images, img)
			}
		}
		out.Images = images
	}
	return out
}

func resolveEndpoint(pageURL, href string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", model.NewError(model.KindMalformedURL, pageURL, err)
	}
	u, err := base.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", model.NewError(model.KindMalformedURL, href, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", model.NewError(model.KindMalformedURL, u.String(), errors.New("oembed endpoint must be http(s)"))
	}
	return u.String(), nil
}
