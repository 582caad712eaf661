package static

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/unfurl/internal/model"
)

func fakeFetch(status int, body string) model.FetchFunc {
	return func(_ context.Context, req model.FetchRequest) (model.FetchResponse, error) {
		return model.FetchResponse{
			URL:        req.URL,
			StatusCode: status,
			Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
			Body:       []byte(body),
		}, nil
	}
}

func TestDiscoverResolvesAnchors(t *testing.T) {
	t.Parallel()

	body := `<html><body>
<a href="/x">x</a>
<a href="https://b.com/y">y</a>
<a href="z#frag">z</a>
<a href="">empty</a>
<a name="no-href">n</a>
<a href="mailto:me@a.com">mail</a>
<A HREF="/upper">upper</A>
</body></html>`
	d := New(fakeFetch(http.StatusOK, body))
	links, err := d.Discover(context.Background(), "https://a.com/dir/")
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://a.com/x",
		"https://b.com/y",
		"https://a.com/dir/z#frag",
		"mailto:me@a.com",
		"https://a.com/upper",
	}, links)
}

func TestDiscoverHonorsBaseHref(t *testing.T) {
	t.Parallel()

	body := `<head><base href="https://a.com/root/"></head><a href="page">p</a>`
	links, err := New(fakeFetch(http.StatusOK, body)).Discover(context.Background(), "https://a.com/other/deep")
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.com/root/page"}, links)
}

func TestDiscoverSeedFailure(t *testing.T) {
	t.Parallel()

	_, err := New(fakeFetch(http.StatusInternalServerError, "")).Discover(context.Background(), "https://a.com")
	require.ErrorIs(t, err, model.ErrDiscoveryFailure)
	require.ErrorIs(t, err, model.ErrBadHTTPStatus)
	require.Equal(t, http.StatusInternalServerError, model.StatusOf(err))
}
