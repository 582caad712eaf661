package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesKind(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("fetch page: %w", StatusError("https://a.com/x", 500))
	require.ErrorIs(t, err, ErrBadHTTPStatus)
	require.NotErrorIs(t, err, ErrTimeout)
	require.Equal(t, KindBadHTTPStatus, KindOf(err))
	require.Equal(t, 500, StatusOf(err))
	require.Contains(t, err.Error(), "https://a.com/x")
	require.Contains(t, err.Error(), "status 500")
}

func TestErrorUnwrapsCause(t *testing.T) {
	t.Parallel()

	err := NewError(KindTimeout, "https://a.com", context.DeadlineExceeded)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestFlexIntDecodesNumbersAndStrings(t *testing.T) {
	t.Parallel()

	var o OEmbed
	raw := `{"width": 640, "height": "360", "thumbnail_width": 120.0, "thumbnail_height": null, "cache_age": " 3600 "}`
	require.NoError(t, json.Unmarshal([]byte(raw), &o))
	assert.Equal(t, FlexInt(640), o.Width)
	assert.Equal(t, FlexInt(360), o.Height)
	assert.Equal(t, FlexInt(120), o.ThumbnailWidth)
	assert.Equal(t, FlexInt(0), o.ThumbnailHeight)
	assert.Equal(t, FlexInt(3600), o.CacheAge)

	require.Error(t, json.Unmarshal([]byte(`{"width":"wide"}`), &o))
}

func TestDefaultOptsAreFreshCopies(t *testing.T) {
	t.Parallel()

	a := DefaultOpts()
	a.Headers["Accept"] = "changed"
	b := DefaultOpts()
	require.Equal(t, DefaultAccept, b.Headers["Accept"])
	require.Equal(t, DefaultUserAgent, b.Headers["User-Agent"])
	require.True(t, b.OEmbed)
	require.True(t, b.Compress)
	require.Equal(t, 50, b.Follow)
	require.Zero(t, b.Timeout)
	require.Zero(t, b.Size)
	require.NoError(t, b.Validate())
}

func TestOptsValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Opts)
	}{
		{"negative follow", func(o *Opts) { o.Follow = -1 }},
		{"negative size", func(o *Opts) { o.Size = -5 }},
		{"negative timeout", func(o *Opts) { o.Timeout = -1 }},
		{"zero max pages", func(o *Opts) { o.MaxPages = 0 }},
		{"zero concurrency", func(o *Opts) { o.Concurrency = 0 }},
		{"zero depth", func(o *Opts) { o.Depth = 0 }},
		{"bad discovery", func(o *Opts) { o.Discovery = "browser" }},
		{"empty header", func(o *Opts) { o.Headers[" "] = "x" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			o := DefaultOpts()
			tc.mutate(&o)
			err := o.Validate()
			require.Error(t, err)
			require.ErrorIs(t, err, ErrBadOptions)
		})
	}
}

func TestFetchFuncClassifiesStatus(t *testing.T) {
	t.Parallel()

	f := FetchFunc(func(_ context.Context, req FetchRequest) (FetchResponse, error) {
		return FetchResponse{StatusCode: http.StatusNotFound}, nil
	})
	_, err := f.Fetch(context.Background(), FetchRequest{URL: "https://a.com/missing"})
	require.ErrorIs(t, err, ErrBadHTTPStatus)
	require.Equal(t, http.StatusNotFound, StatusOf(err))

	_, err = f.Fetch(context.Background(), FetchRequest{URL: "ftp://a.com"})
	require.ErrorIs(t, err, ErrMalformedURL)
}

func TestFetchFuncWrapsTransportErrors(t *testing.T) {
	t.Parallel()

	f := FetchFunc(func(context.Context, FetchRequest) (FetchResponse, error) {
		return FetchResponse{}, errors.New("connection refused")
	})
	_, err := f.Fetch(context.Background(), FetchRequest{URL: "https://a.com"})
	require.ErrorIs(t, err, ErrNetworkFailure)

	ok := FetchFunc(func(context.Context, FetchRequest) (FetchResponse, error) {
		return FetchResponse{StatusCode: 200, Body: []byte("hi")}, nil
	})
	resp, err := ok.Fetch(context.Background(), FetchRequest{URL: "https://a.com"})
	require.NoError(t, err)
	require.Equal(t, "https://a.com", resp.URL)
}

func TestLimitedKeepsRequestHeaders(t *testing.T) {
	t.Parallel()

	var got http.Header
	f := FetchFunc(func(_ context.Context, req FetchRequest) (FetchResponse, error) {
		got = req.Headers
		return FetchResponse{StatusCode: http.StatusOK, Body: []byte("0123456789")}, nil
	})
	opts := DefaultOpts()
	opts.Size = 10

	resp, err := f.Limited(opts).Fetch(context.Background(), FetchRequest{
		URL:     "https://a.com",
		Headers: http.Header{"Accept": {"application/json"}},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Body, 10, "a body of exactly Size is allowed")
	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.Empty(t, got.Get("User-Agent"))

	_, err = f.Limited(opts).Fetch(context.Background(), FetchRequest{URL: "https://a.com"})
	require.NoError(t, err)
	assert.Equal(t, DefaultUserAgent, got.Get("User-Agent"))
}

func TestIsRecognizedKey(t *testing.T) {
	t.Parallel()

	require.True(t, IsRecognizedKey("og:title"))
	require.True(t, IsRecognizedKey(" OG:Image "))
	require.False(t, IsRecognizedKey("x-custom"))
	require.NotEmpty(t, RecognizedKeys())
}

func TestMetadataCloneIsDeep(t *testing.T) {
	t.Parallel()

	m := Metadata{Images: []string{"a"}, RawTags: map[string]string{"k": "v"}, OEmbed: &OEmbed{Title: "t"}}
	c := m.Clone()
	c.Images[0] = "b"
	c.RawTags["k"] = "w"
	c.OEmbed.Title = "u"
	require.Equal(t, "a", m.Images[0])
	require.Equal(t, "v", m.RawTags["k"])
	require.Equal(t, "t", m.OEmbed.Title)
}
