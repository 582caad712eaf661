// Package static discovers anchor links from the served markup, without
// running page scripts.
package static

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/unfurl/internal/model"
	"github.com/JakeFAU/unfurl/internal/parser"
)

// Discoverer fetches a page and reads its a[href] elements.
type Discoverer struct {
	fetcher model.Fetcher
}

// New builds a Discoverer that fetches through fetcher.
func New(fetcher model.Fetcher) *Discoverer {
	return &Discoverer{fetcher: fetcher}
}

// Discover returns every anchor href on pageURL resolved to an absolute URL,
// honoring <base href>. A seed that cannot be fetched or parsed is a
// DISCOVERY_FAILURE.
func (d *Discoverer) Discover(ctx context.Context, pageURL string) ([]string, error) {
	resp, err := d.fetcher.Fetch(ctx, model.FetchRequest{URL: pageURL})
	if err != nil {
		return nil, discoveryError(pageURL, err)
	}
	return Links(resp)
}

// Links reads the anchors of an already fetched page.
func Links(resp model.FetchResponse) ([]string, error) {
	text, _, err := parser.Decode(resp.Body, resp.ContentType())
	if err != nil {
		return nil, discoveryError(resp.URL, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return nil, discoveryError(resp.URL, fmt.Errorf("parse document: %w", err))
	}

	base, err := url.Parse(resp.URL)
	if err != nil {
		return nil, discoveryError(resp.URL, err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = b
		}
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		u, err := base.Parse(href)
		if err != nil {
			return
		}
		links = append(links, u.String())
	})
	return links, nil
}

func discoveryError(pageURL string, err error) error {
	e := model.NewError(model.KindDiscoveryFailure, pageURL, err)
	e.Status = model.StatusOf(err)
	return e
}

var _ model.Discoverer = (*Discoverer)(nil)
