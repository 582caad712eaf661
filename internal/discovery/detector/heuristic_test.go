package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/unfurl/internal/model"
)

func TestShouldPromote(t *testing.T) {
	t.Parallel()

	plain := `<html><body>` + strings.Repeat(`<p>static text</p>`, 20) + `<a href="/x">x</a></body></html>`
	tests := []struct {
		name    string
		status  int
		body    string
		anchors int
		want    bool
	}{
		{name: "empty body", status: http.StatusOK, body: "", anchors: 0, want: true},
		{name: "no anchors", status: http.StatusOK, body: plain, anchors: 0, want: true},
		{name: "spa marker", status: http.StatusOK, body: `<div id="__next"></div><a href="/a">a</a>`, anchors: 1, want: true},
		{name: "script heavy", status: http.StatusOK, body: `<html><script>var a=1;</script><a href="/a">a</a></html>`, anchors: 1, want: true},
		{name: "unclosed script", status: http.StatusOK, body: `<a href="/a">a</a><script src=x.js`, anchors: 1, want: true},
		{name: "plain page", status: http.StatusOK, body: plain, anchors: 1, want: false},
		{name: "not found", status: http.StatusNotFound, body: "", anchors: 0, want: false},
	}

	h := NewHeuristic(1000)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			resp := model.FetchResponse{StatusCode: tc.status, Body: []byte(tc.body)}
			require.Equal(t, tc.want, h.ShouldPromote(resp, tc.anchors))
		})
	}
}

func TestNewHeuristicDefaultThreshold(t *testing.T) {
	t.Parallel()

	require.Equal(t, defaultBodyLengthThreshold, NewHeuristic(0).BodyLengthThreshold)
	require.Equal(t, 10, NewHeuristic(10).BodyLengthThreshold)
}
