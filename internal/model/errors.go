package model

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies unfurl failures.
type Kind string

// Failure kinds surfaced to callers.
const (
	KindBadOptions       Kind = "BAD_OPTIONS"
	KindBadHTTPStatus    Kind = "BAD_HTTP_STATUS"
	KindTimeout          Kind = "TIMEOUT"
	KindTooLarge         Kind = "TOO_LARGE"
	KindTooManyRedirects Kind = "TOO_MANY_REDIRECTS"
	KindNetworkFailure   Kind = "NETWORK_FAILURE"
	KindParseFailure     Kind = "PARSE_FAILURE"
	KindMalformedURL     Kind = "MALFORMED_URL"
	KindDiscoveryFailure Kind = "DISCOVERY_FAILURE"
)

// Sentinels for errors.Is. Any *Error with the same Kind matches.
var (
	ErrBadOptions       = &Error{Kind: KindBadOptions}
	ErrBadHTTPStatus    = &Error{Kind: KindBadHTTPStatus}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrTooLarge         = &Error{Kind: KindTooLarge}
	ErrTooManyRedirects = &Error{Kind: KindTooManyRedirects}
	ErrNetworkFailure   = &Error{Kind: KindNetworkFailure}
	ErrParseFailure     = &Error{Kind: KindParseFailure}
	ErrMalformedURL     = &Error{Kind: KindMalformedURL}
	ErrDiscoveryFailure = &Error{Kind: KindDiscoveryFailure}
)

// Error is a classified failure carrying the URL and HTTP status involved.
type Error struct {
	Kind   Kind
	URL    string
	Status int
	Err    error
}

// NewError builds an *Error of the given kind.
func NewError(kind Kind, url string, err error) *Error {
	return &Error{Kind: kind, URL: url, Err: err}
}

// StatusError builds a BAD_HTTP_STATUS error.
func StatusError(url string, status int) *Error {
	return &Error{Kind: KindBadHTTPStatus, URL: url, Status: status}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.URL != "" {
		b.WriteString(" ")
		b.WriteString(e.URL)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StatusOf returns the HTTP status recorded in err's chain, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
