// Package normalize turns extracted page metadata into the stable output
// schema: absolute URLs, ranked fields, deduplicated images, and a closed
// set of raw tag keys.
package normalize

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/unfurl/internal/model"
	"github.com/JakeFAU/unfurl/internal/parser"
)

// Normalize resolves URLs against the canonical URL (or pageURL), applies
// oEmbed > OpenGraph > Twitter > HTML precedence, dedups images, and drops
// unrecognized raw tags. pc may be nil. Normalize is pure and idempotent;
// it fails only when pageURL is not an absolute http(s) URL.
func Normalize(md model.Metadata, pc *parser.ParseContext, pageURL string) (model.Metadata, error) {
	page, err := parseAbsolute(pageURL)
	if err != nil {
		return model.Metadata{}, model.NewError(model.KindMalformedURL, pageURL, err)
	}

	out := md.Clone()
	out.URL = page.String()

	base := page
	out.CanonicalURL = ""
	if canonical := resolve(page, firstNonEmpty(md.CanonicalURL, canonicalHint(pc))); canonical != nil {
		out.CanonicalURL = canonical.String()
		base = canonical
	}

	var oembed model.OEmbed
	if md.OEmbed != nil {
		oembed = *md.OEmbed
	}
	out.Title = clean(firstNonEmpty(
		oembed.Title,
		pc.First("og:title"),
		pc.First("twitter:title"),
		titleHint(pc),
		md.Title,
	))
	out.Description = clean(firstNonEmpty(
		oembed.Description,
		pc.First("og:description"),
		pc.First("twitter:description"),
		pc.First("description"),
		md.Description,
	))

	candidates := make([]string, 0, len(md.Images)+1)
	if oembed.ThumbnailURL != "" {
		candidates = append(candidates, oembed.ThumbnailURL)
	}
	candidates = append(candidates, parser.ImageCandidates(pc)...)
	candidates = append(candidates, md.Images...)
	out.Images = dedupResolved(base, candidates)

	out.FaviconURL = ""
	if icon := resolve(base, firstNonEmpty(md.FaviconURL, faviconHint(pc))); icon != nil {
		out.FaviconURL = icon.String()
	} else {
		out.FaviconURL = (&url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/favicon.ico"}).String()
	}

	out.RawTags = filterTags(md.RawTags, pc)
	return out, nil
}

func parseAbsolute(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("page url %q is not absolute http(s)", raw)
	}
	return u, nil
}

// resolve returns ref as an absolute http(s) URL, or nil.
func resolve(base *url.URL, ref string) *url.URL {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	u, err := base.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil
	}
	return u
}

func dedupResolved(base *url.URL, refs []string) []string {
	seen := make(map[string]struct{}, len(refs))
	var out []string
	for _, ref := range refs {
		u := resolve(base, ref)
		if u == nil {
			continue
		}
		s := u.String()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// filterTags keeps the first value per recognized key, preferring the
// parse context over the record.
func filterTags(raw map[string]string, pc *parser.ParseContext) map[string]string {
	out := make(map[string]string)
	if pc != nil {
		for _, t := range pc.Tags {
			key := strings.ToLower(t.Key)
			if _, ok := out[key]; ok || !model.IsRecognizedKey(key) {
				continue
			}
			out[key] = t.Value
		}
	}
	for k, v := range raw {
		key := strings.ToLower(strings.TrimSpace(k))
		if _, ok := out[key]; ok || !model.IsRecognizedKey(key) {
			continue
		}
		out[key] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func canonicalHint(pc *parser.ParseContext) string {
	if pc == nil {
		return ""
	}
	return pc.CanonicalURL
}

func titleHint(pc *parser.ParseContext) string {
	if pc == nil {
		return ""
	}
	return pc.Title
}

func faviconHint(pc *parser.ParseContext) string {
	if pc == nil {
		return ""
	}
	return pc.Favicon
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
