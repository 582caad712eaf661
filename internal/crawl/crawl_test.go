package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/unfurl/internal/fetcher/colly"
	"github.com/JakeFAU/unfurl/internal/model"
	"github.com/JakeFAU/unfurl/internal/pipeline"
)

type stubDiscoverer struct {
	links map[string][]string
	err   error
	calls []string
}

func (s *stubDiscoverer) Discover(_ context.Context, pageURL string) ([]string, error) {
	s.calls = append(s.calls, pageURL)
	if s.err != nil {
		return nil, s.err
	}
	return s.links[pageURL], nil
}

// stubPages returns a Metadata titled with the page URL and fails the URLs in
// fail.
type stubPages struct {
	mu       sync.Mutex
	fail     map[string]error
	delay    func(pageURL string) time.Duration
	visited  []string
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *stubPages) Run(ctx context.Context, pageURL string) (model.Metadata, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	s.mu.Lock()
	s.visited = append(s.visited, pageURL)
	s.mu.Unlock()

	if s.delay != nil {
		select {
		case <-time.After(s.delay(pageURL)):
		case <-ctx.Done():
			return model.Metadata{}, &model.StageError{Stage: model.StageFetch, Err: ctx.Err()}
		}
	}
	if err := s.fail[pageURL]; err != nil {
		return model.Metadata{}, err
	}
	return model.Metadata{URL: pageURL, Title: pageURL}, nil
}

func (s *stubPages) urls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visited...)
}

type fixedID string

func (f fixedID) NewID() (string, error) { return string(f), nil }

type denyPaths map[string]bool

func (d denyPaths) Allowed(_ context.Context, rawURL string) bool { return !d[rawURL] }

func pageURLs(pages []model.Metadata) []string {
	out := make([]string, 0, len(pages))
	for _, p := range pages {
		out = append(out, p.URL)
	}
	return out
}

func TestRunSameOriginFilter(t *testing.T) {
	t.Parallel()

	disc := &stubDiscoverer{links: map[string][]string{
		"https://a.com": {"https://a.com/x", "https://b.com/y", "https://a.com/z#frag"},
	}}
	pages := &stubPages{}
	o := New(Config{}, Deps{Discoverer: disc, Pages: pages, IDs: fixedID("crawl-1"), Logger: zap.NewNop()})

	res, err := o.Run(context.Background(), "https://a.com")
	require.NoError(t, err)
	require.Equal(t, "crawl-1", res.CrawlID)
	require.Equal(t, "https://a.com", res.Seed)
	require.Equal(t, []string{"https://a.com/x", "https://a.com/z"}, pageURLs(res.Pages))
	require.ElementsMatch(t, []string{"https://a.com/x", "https://a.com/z"}, pages.urls())
	require.Equal(t, 2, res.Discovered)
	require.False(t, res.Canceled)
}

func TestAdmitDedupAndHostRules(t *testing.T) {
	t.Parallel()

	o := New(Config{}, Deps{Discoverer: &stubDiscoverer{}, Pages: &stubPages{}})
	seed, ok := canonicalLink("https://A.com/start")
	require.True(t, ok)

	visited := map[string]struct{}{}
	batch, found := o.admit(context.Background(), seed, []string{
		"https://a.com/x",
		"https://a.com/x#top",
		"HTTPS://A.COM/x",
		"http://a.com:8080/x",
		"https://a.com:443/y",
		"mailto:someone@a.com",
		"javascript:void(0)",
		"https://sub.a.com/z",
		"/relative",
		"",
	}, visited, 10)

	require.Equal(t, []string{"https://a.com/x", "http://a.com:8080/x", "https://a.com/y"}, batch)
	require.Equal(t, 3, found)
	require.Len(t, visited, 3)

	again, found := o.admit(context.Background(), seed, []string{"https://a.com/y#again"}, visited, 10)
	require.Empty(t, again)
	require.Zero(t, found)
}

func TestRunPartialFailureIsolation(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	for _, name := range []string{"one", "three"} {
		mux.HandleFunc("/"+name, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = fmt.Fprintf(w, "<title>%s</title>", name)
		})
	}
	mux.HandleFunc("/two", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	opts := model.DefaultOpts()
	opts.OEmbed = false
	fetcher := collyfetcher.New(collyfetcher.ConfigFromOpts(opts))
	disc := &stubDiscoverer{links: map[string][]string{
		srv.URL: {srv.URL + "/one", srv.URL + "/two", srv.URL + "/three"},
	}}

	for _, report := range []bool{false, true} {
		cfg := ConfigFromOpts(opts)
		cfg.ReportFailures = report
		o := New(cfg, Deps{Discoverer: disc, Pages: pipeline.New(fetcher, opts, zap.NewNop())})

		res, err := o.Run(context.Background(), srv.URL)
		require.NoError(t, err)
		require.Len(t, res.Pages, 2)
		require.Equal(t, "one", res.Pages[0].Title)
		require.Equal(t, "three", res.Pages[1].Title)

		if !report {
			require.Empty(t, res.Failures)
			continue
		}
		require.Len(t, res.Failures, 1)
		failure := res.Failures[0]
		require.Equal(t, srv.URL+"/two", failure.URL)
		require.Equal(t, model.StageFetch, failure.Stage)
		require.Equal(t, model.KindBadHTTPStatus, failure.Kind)
		require.Equal(t, http.StatusInternalServerError, failure.Status)
	}
}

func TestRunPreservesDiscoveryOrder(t *testing.T) {
	t.Parallel()

	var links []string
	for i := range 12 {
		links = append(links, fmt.Sprintf("https://a.com/p%02d", i))
	}
	disc := &stubDiscoverer{links: map[string][]string{"https://a.com": links}}
	pages := &stubPages{delay: func(pageURL string) time.Duration {
		// Earlier links finish last.
		for i, l := range links {
			if l == pageURL {
				return time.Duration(len(links)-i) * time.Millisecond
			}
		}
		return 0
	}}
	o := New(Config{Concurrency: 3}, Deps{Discoverer: disc, Pages: pages})

	res, err := o.Run(context.Background(), "https://a.com")
	require.NoError(t, err)
	require.Equal(t, links, pageURLs(res.Pages))
	require.LessOrEqual(t, pages.peak.Load(), int32(3))
}

func TestRunCapsMaxPages(t *testing.T) {
	t.Parallel()

	disc := &stubDiscoverer{links: map[string][]string{
		"https://a.com": {"https://a.com/1", "https://a.com/2", "https://a.com/3", "https://a.com/4"},
	}}
	pages := &stubPages{}
	o := New(Config{MaxPages: 2}, Deps{Discoverer: disc, Pages: pages})

	res, err := o.Run(context.Background(), "https://a.com")
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.com/1", "https://a.com/2"}, pageURLs(res.Pages))
	require.Equal(t, 4, res.Discovered)
	require.Len(t, pages.urls(), 2)
}

func TestRunIncludeSeedAndRobots(t *testing.T) {
	t.Parallel()

	disc := &stubDiscoverer{links: map[string][]string{
		"https://a.com/home": {"https://a.com/home", "https://a.com/private", "https://a.com/public"},
	}}
	o := New(Config{IncludeSeed: true}, Deps{
		Discoverer: disc,
		Pages:      &stubPages{},
		Robots:     denyPaths{"https://a.com/private": true},
	})

	res, err := o.Run(context.Background(), "https://a.com/home")
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.com/home", "https://a.com/public"}, pageURLs(res.Pages))
}

func TestRunFollowsDepth(t *testing.T) {
	t.Parallel()

	disc := &stubDiscoverer{links: map[string][]string{
		"https://a.com":   {"https://a.com/a", "https://a.com/b"},
		"https://a.com/a": {"https://a.com/b", "https://a.com/c"},
		"https://a.com/b": {"https://a.com/d", "https://b.com/e"},
		"https://a.com/c": {"https://a.com/never"},
	}}
	o := New(Config{Depth: 2, MaxPages: 10}, Deps{Discoverer: disc, Pages: &stubPages{}})

	res, err := o.Run(context.Background(), "https://a.com")
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://a.com/a", "https://a.com/b",
		"https://a.com/c", "https://a.com/d",
	}, pageURLs(res.Pages))
	require.Equal(t, []string{"https://a.com", "https://a.com/a", "https://a.com/b"}, disc.calls)
}

func TestRunSeedFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		seed string
		err  error
		want error
	}{
		{name: "malformed seed", seed: "ftp://a.com", want: model.ErrMalformedURL},
		{name: "discovery failure", seed: "https://a.com", err: errors.New("browser crashed"), want: model.ErrDiscoveryFailure},
		{
			name: "seed status",
			seed: "https://a.com",
			err:  model.StatusError("https://a.com", http.StatusNotFound),
			want: model.ErrDiscoveryFailure,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			o := New(Config{}, Deps{Discoverer: &stubDiscoverer{err: tc.err}, Pages: &stubPages{}})
			res, err := o.Run(context.Background(), tc.seed)
			require.Nil(t, res)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRunSeedStatusIsReported(t *testing.T) {
	t.Parallel()

	disc := &stubDiscoverer{err: model.StatusError("https://a.com", http.StatusForbidden)}
	_, err := New(Config{}, Deps{Discoverer: disc, Pages: &stubPages{}}).Run(context.Background(), "https://a.com")
	require.ErrorIs(t, err, model.ErrBadHTTPStatus)
	require.Equal(t, http.StatusForbidden, model.StatusOf(err))
}

func TestRunCancellationReturnsPartialResults(t *testing.T) {
	t.Parallel()

	disc := &stubDiscoverer{links: map[string][]string{
		"https://a.com": {"https://a.com/fast", "https://a.com/slow"},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pages := &stubPages{delay: func(pageURL string) time.Duration {
		if pageURL == "https://a.com/slow" {
			return time.Minute
		}
		return 0
	}}
	wrapped := pageRunnerFunc(func(ctx context.Context, pageURL string) (model.Metadata, error) {
		md, err := pages.Run(ctx, pageURL)
		if pageURL == "https://a.com/fast" {
			cancel()
		}
		return md, err
	})
	o := New(Config{Concurrency: 1, ReportFailures: true}, Deps{Discoverer: disc, Pages: wrapped})

	res, err := o.Run(ctx, "https://a.com")
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.True(t, res.Canceled)
	assert.Equal(t, []string{"https://a.com/fast"}, pageURLs(res.Pages))
	assert.Empty(t, res.Failures)
}

type pageRunnerFunc func(ctx context.Context, pageURL string) (model.Metadata, error)

func (f pageRunnerFunc) Run(ctx context.Context, pageURL string) (model.Metadata, error) {
	return f(ctx, pageURL)
}
