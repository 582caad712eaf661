package collyfetcher

import (
	"errors"
	"net/http"
	"strings"
)

// originalContentTypeHeader carries the served Content-Type past colly,
// which would otherwise transcode bodies that declare a non-UTF-8 charset.
const originalContentTypeHeader = "X-Unfurl-Original-Content-Type"

// rawCharsetTransport hides the charset parameter from colly so the body
// reaches the parser exactly as served.
type rawCharsetTransport struct {
	base http.RoundTripper
}

func (t *rawCharsetTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("charset transport received nil request")
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		// Returned unwrapped so url.Error keeps reporting Timeout().
		return nil, err //nolint:wrapcheck
	}
	ct := resp.Header.Get("Content-Type")
	if strings.Contains(strings.ToLower(ct), "charset") {
		resp.Header.Set(originalContentTypeHeader, ct)
		mediaType, _, _ := strings.Cut(ct, ";")
		resp.Header.Set("Content-Type", strings.TrimSpace(mediaType))
	}
	return resp, nil
}

// restoreContentType undoes rawCharsetTransport on a copied header set.
func restoreContentType(h http.Header) {
	if orig := h.Get(originalContentTypeHeader); orig != "" {
		h.Set("Content-Type", orig)
		h.Del(originalContentTypeHeader)
	}
}
