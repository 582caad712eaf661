package auto

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/unfurl/internal/model"
)

type stubBrowser struct {
	links []string
	err   error
	calls int
}

func (s *stubBrowser) Discover(context.Context, string) ([]string, error) {
	s.calls++
	return s.links, s.err
}

func servePage(status int, body string) model.FetchFunc {
	return func(_ context.Context, req model.FetchRequest) (model.FetchResponse, error) {
		return model.FetchResponse{
			URL:        req.URL,
			StatusCode: status,
			Headers:    http.Header{"Content-Type": {"text/html"}},
			Body:       []byte(body),
		}, nil
	}
}

const plainPage = `<html><body><p>Plain enough to not need a browser at all, really.</p>
<a href="/one">one</a><a href="/two">two</a></body></html>`

func TestDiscoverKeepsStaticLinks(t *testing.T) {
	t.Parallel()

	browser := &stubBrowser{links: []string{"https://a.com/rendered"}}
	d := New(servePage(http.StatusOK, plainPage), browser, nil, zap.NewNop())

	links, err := d.Discover(context.Background(), "https://a.com/")
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.com/one", "https://a.com/two"}, links)
	require.Zero(t, browser.calls)
}

func TestDiscoverPromotesScriptBuiltPages(t *testing.T) {
	t.Parallel()

	browser := &stubBrowser{links: []string{"https://a.com/rendered"}}
	d := New(servePage(http.StatusOK, `<div id="root"></div><script src="/app.js"></script>`), browser, nil, zap.NewNop())

	links, err := d.Discover(context.Background(), "https://a.com/")
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.com/rendered"}, links)
	require.Equal(t, 1, browser.calls)
}

func TestDiscoverFallsBackWhenBrowserFails(t *testing.T) {
	t.Parallel()

	browser := &stubBrowser{err: errors.New("chrome crashed")}
	body := `<div id="app"><a href="/shell">shell</a></div>`
	d := New(servePage(http.StatusOK, body), browser, nil, zap.NewNop())

	links, err := d.Discover(context.Background(), "https://a.com/")
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.com/shell"}, links)
	require.Equal(t, 1, browser.calls)
}

func TestDiscoverWithoutBrowser(t *testing.T) {
	t.Parallel()

	d := New(servePage(http.StatusOK, `<div id="root"></div>`), nil, nil, nil)
	links, err := d.Discover(context.Background(), "https://a.com/")
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestDiscoverSeedFailure(t *testing.T) {
	t.Parallel()

	d := New(servePage(http.StatusBadGateway, ""), &stubBrowser{}, nil, zap.NewNop())
	_, err := d.Discover(context.Background(), "https://a.com/")
	require.ErrorIs(t, err, model.ErrDiscoveryFailure)
	require.Equal(t, http.StatusBadGateway, model.StatusOf(err))
}
