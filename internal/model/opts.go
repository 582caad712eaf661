package model

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DiscoveryMode selects how anchors are enumerated on a page.
type DiscoveryMode string

// Supported discovery modes.
const (
	DiscoveryHeadless DiscoveryMode = "headless"
	DiscoveryStatic   DiscoveryMode = "static"
	// DiscoveryAuto reads the served markup and renders only pages that look
	// script-built.
	DiscoveryAuto DiscoveryMode = "auto"
)

// Default option values.
const (
	DefaultAccept            = "text/html, application/xhtml+xml"
	DefaultUserAgent         = "facebookexternalhit"
	DefaultFollow            = 50
	DefaultMaxPages          = 100
	DefaultConcurrency       = 4
	DefaultDepth             = 1
	DefaultNavigationTimeout = 30 * time.Second
	DefaultIdleTimeout       = 5 * time.Second
)

// Opts configures one unfurl call. It is read-only once the call starts and
// is shared by every concurrent page pipeline.
type Opts struct {
	// OEmbed enables remote enrichment from oEmbed discovery links.
	OEmbed bool
	// Compress requests compressed transfer encodings.
	Compress bool
	// Headers are sent with every fetch.
	Headers map[string]string
	// Follow is the maximum number of redirects per fetch.
	Follow int
	// Timeout bounds each fetch including redirects. Zero means none.
	Timeout time.Duration
	// Size caps the response body in bytes. Zero means unbounded.
	Size int64
	// Fetch replaces the default transport when set.
	Fetch FetchFunc

	MaxPages          int
	Concurrency       int
	Depth             int
	IncludeSeed       bool
	ReportFailures    bool
	RespectRobots     bool
	RatePerHost       float64
	Discovery         DiscoveryMode
	NavigationTimeout time.Duration
	IdleTimeout       time.Duration
}

// DefaultOpts returns a fresh copy of the default options.
func DefaultOpts() Opts {
	return Opts{
		OEmbed:   true,
		Compress: true,
		Headers: map[string]string{
			"Accept":     DefaultAccept,
			"User-Agent": DefaultUserAgent,
		},
		Follow:            DefaultFollow,
		MaxPages:          DefaultMaxPages,
		Concurrency:       DefaultConcurrency,
		Depth:             DefaultDepth,
		Discovery:         DiscoveryHeadless,
		NavigationTimeout: DefaultNavigationTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
}

// Validate reports the first invalid option as a BAD_OPTIONS error.
func (o Opts) Validate() error {
	var problems []string
	if o.Follow < 0 {
		problems = append(problems, "follow must be >= 0")
	}
	if o.Timeout < 0 {
		problems = append(problems, "timeout must be >= 0")
	}
	if o.Size < 0 {
		problems = append(problems, "size must be >= 0")
	}
	if o.MaxPages <= 0 {
		problems = append(problems, "max_pages must be > 0")
	}
	if o.Concurrency <= 0 {
		problems = append(problems, "concurrency must be > 0")
	}
	if o.Depth <= 0 {
		problems = append(problems, "depth must be > 0")
	}
	if o.RatePerHost < 0 {
		problems = append(problems, "rate_per_host must be >= 0")
	}
	if o.NavigationTimeout < 0 || o.IdleTimeout < 0 {
		problems = append(problems, "discovery timeouts must be >= 0")
	}
	switch o.Discovery {
	case DiscoveryHeadless, DiscoveryStatic, DiscoveryAuto:
	default:
		problems = append(problems, fmt.Sprintf("discovery must be %q, %q or %q", DiscoveryHeadless, DiscoveryStatic, DiscoveryAuto))
	}
	for name := range o.Headers {
		if strings.TrimSpace(name) == "" {
			problems = append(problems, "header names must be non-empty")
			break
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return NewError(KindBadOptions, "", errors.New(strings.Join(problems, "; ")))
}

// HTTPHeader converts Headers into an http.Header.
func (o Opts) HTTPHeader() http.Header {
	h := make(http.Header, len(o.Headers))
	for k, v := range o.Headers {
		h.Set(k, v)
	}
	return h
}
