// Package collyfetcher implements model.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/unfurl/internal/model"
)

var errTooManyRedirects = errors.New("redirect limit exceeded")

// Config controls collector behavior.
type Config struct {
	// Headers are applied to every request.
	Headers http.Header
	// Follow is the redirect budget per fetch.
	Follow int
	// Timeout bounds a fetch including redirects. Zero disables it.
	Timeout time.Duration
	// Size caps the body in bytes. Zero means unbounded.
	Size int64
	// Compress enables transparent gzip.
	Compress bool
	// Transport overrides the pooled HTTP transport (tests).
	Transport http.RoundTripper
}

// ConfigFromOpts maps per-call options onto a fetcher Config.
func ConfigFromOpts(opts model.Opts) Config {
	return Config{
		Headers:  opts.HTTPHeader(),
		Follow:   opts.Follow,
		Timeout:  opts.Timeout,
		Size:     opts.Size,
		Compress: opts.Compress,
	}
}

// Fetcher implements model.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponseHeaders(colly.ResponseHeadersCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchState collects the outcome of one Visit.
type fetchState struct {
	result   model.FetchResponse
	fetchErr error
	tooLarge bool
}

// maxBodySize converts a Size limit into colly's MaxBodySize. One extra byte
// distinguishes "exactly Size" from "too large"; limits at the top of the int
// range are clamped so the extra byte cannot overflow into "no limit".
func maxBodySize(size int64) int {
	if size <= 0 {
		return 0
	}
	if size >= math.MaxInt-1 {
		return math.MaxInt
	}
	return int(size) + 1
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	c.MaxBodySize = maxBodySize(cfg.Size)
	if ua := cfg.Headers.Get("User-Agent"); ua != "" {
		c.UserAgent = ua
	}

	base := cfg.Transport
	if base == nil {
		base = newHTTPTransport(cfg.Compress)
	}
	c.WithTransport(&rawCharsetTransport{base: base})
	c.SetRequestTimeout(cfg.Timeout)

	follow := cfg.Follow
	c.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
		if len(via) > follow {
			return fmt.Errorf("%w after %d redirects", errTooManyRedirects, follow)
		}
		return nil
	})

	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request model.FetchRequest) (model.FetchResponse, error) {
	if err := model.ValidateFetchURL(request.URL); err != nil {
		return model.FetchResponse{}, err
	}
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	state := &fetchState{}
	collector := f.buildCollector(ctx, request, time.Now(), state)
	if err := f.runCollector(ctx, collector, request.URL, state); err != nil {
		return model.FetchResponse{}, err
	}
	if err := model.CheckStatus(state.result.URL, state.result.StatusCode); err != nil {
		return model.FetchResponse{}, err
	}
	return state.result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	request model.FetchRequest,
	start time.Time,
	state *fetchState,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, request, start, state)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request model.FetchRequest,
	start time.Time,
	state *fetchState,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponseHeaders(func(r *colly.Response) {
		if f.cfg.Size <= 0 || r.Headers == nil {
			return
		}
		n, err := strconv.ParseInt(r.Headers.Get("Content-Length"), 10, 64)
		if err == nil && n > f.cfg.Size {
			state.tooLarge = true
			r.Request.Abort()
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		restoreContentType(headers)
		if f.cfg.Size > 0 && int64(len(r.Body)) > f.cfg.Size {
			state.tooLarge = true
			return
		}
		state.result = model.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		state.fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, state *fetchState) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return classify(url, ctx.Err())
	case err := <-done:
		if state.tooLarge {
			return model.NewError(model.KindTooLarge, url, fmt.Errorf("body exceeds %d bytes", f.cfg.Size))
		}
		if err == nil {
			err = state.fetchErr
		}
		if err != nil {
			if ctx.Err() != nil {
				return classify(url, ctx.Err())
			}
			return classify(url, err)
		}
		if state.result.URL == "" {
			return model.NewError(model.KindNetworkFailure, url, errors.New("no response received"))
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(request model.FetchRequest, r *colly.Request) {
	for key, values := range f.cfg.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
	if !f.cfg.Compress {
		r.Headers.Set("Accept-Encoding", "identity")
	}
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// classify maps transport errors onto the unfurl error kinds.
func classify(url string, err error) error {
	if model.KindOf(err) != "" {
		return err
	}
	var netErr net.Error
	switch {
	case errors.Is(err, errTooManyRedirects):
		return model.NewError(model.KindTooManyRedirects, url, err)
	case errors.Is(err, context.DeadlineExceeded):
		return model.NewError(model.KindTimeout, url, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("colly fetch canceled: %w", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return model.NewError(model.KindTimeout, url, err)
	default:
		return model.NewError(model.KindNetworkFailure, url, err)
	}
}

func newHTTPTransport(compress bool) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    !compress,
	}
}
