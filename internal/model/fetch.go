package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// FetchRequest describes a single GET.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse holds the raw bytes served for a request.
// Body is exactly what the server sent after transfer decoding.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ContentType returns the Content-Type header value.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// Fetcher fetches a URL and returns the body plus response metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// FetchFunc adapts a plain function to Fetcher. Responses with a non-2xx
// status are turned into BAD_HTTP_STATUS errors, the same way the default
// transport reports them.
type FetchFunc func(ctx context.Context, request FetchRequest) (FetchResponse, error)

// Fetch implements Fetcher.
func (f FetchFunc) Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error) {
	if err := ValidateFetchURL(request.URL); err != nil {
		return FetchResponse{}, err
	}
	resp, err := f(ctx, request)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return FetchResponse{}, NewError(KindTimeout, request.URL, err)
		}
		if KindOf(err) != "" {
			return FetchResponse{}, err
		}
		return FetchResponse{}, NewError(KindNetworkFailure, request.URL, err)
	}
	if resp.URL == "" {
		resp.URL = request.URL
	}
	if err := CheckStatus(resp.URL, resp.StatusCode); err != nil {
		return FetchResponse{}, err
	}
	return resp, nil
}

// Limited wraps f with the per-fetch limits of opts so a custom transport
// behaves like the default one: requests without headers get opts.Headers,
// Timeout bounds each call and bodies over Size fail with TOO_LARGE.
func (f FetchFunc) Limited(opts Opts) Fetcher {
	return &limitedFetch{
		fetch:   f,
		headers: opts.HTTPHeader(),
		timeout: opts.Timeout,
		size:    opts.Size,
	}
}

type limitedFetch struct {
	fetch   FetchFunc
	headers http.Header
	timeout time.Duration
	size    int64
}

// Fetch implements Fetcher.
func (l *limitedFetch) Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error) {
	if len(request.Headers) == 0 {
		request.Headers = l.headers.Clone()
	}
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	resp, err := l.fetch.Fetch(ctx, request)
	if err != nil {
		return FetchResponse{}, err
	}
	// The transport may ignore ctx and answer after the deadline.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return FetchResponse{}, NewError(KindTimeout, request.URL, ctx.Err())
	}
	if l.size > 0 && int64(len(resp.Body)) > l.size {
		return FetchResponse{}, NewError(KindTooLarge, resp.URL,
			fmt.Errorf("body of %d bytes exceeds limit of %d", len(resp.Body), l.size))
	}
	return resp, nil
}

// CheckStatus returns a BAD_HTTP_STATUS error for non-2xx codes.
func CheckStatus(rawURL string, status int) error {
	if status < 200 || status > 299 {
		return StatusError(rawURL, status)
	}
	return nil
}

// ValidateFetchURL requires an absolute http(s) URL with a host.
func ValidateFetchURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return NewError(KindMalformedURL, rawURL, fmt.Errorf("parse url: %w", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewError(KindMalformedURL, rawURL, fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return NewError(KindMalformedURL, rawURL, errors.New("missing host"))
	}
	return nil
}

// Discoverer enumerates anchor hrefs on a page as absolute URLs.
type Discoverer interface {
	Discover(ctx context.Context, pageURL string) ([]string, error)
}
