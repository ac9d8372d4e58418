package upstream

import (
	"errors"
	"fmt"
)

const (
	SourceCalendar = "calendar"
	SourceWeather  = "weather"
)

// ErrMissingURL is wrapped in a FetchError when a source has no URL configured.
var ErrMissingURL = errors.New("source URL is not configured")

// ErrResponseTooLarge is wrapped in a FetchError when a body exceeds the read limit.
// A truncated feed could still parse and silently drop events.
var ErrResponseTooLarge = errors.New("response exceeds size limit")

// FetchError is a network or transport failure reaching an upstream.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: fetch failed: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusError is a non-2xx HTTP status from an upstream.
type StatusError struct {
	Source     string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s upstream responded with HTTP %d", e.Source, e.StatusCode)
}

// ParseError is a malformed upstream document: broken ICS or an unexpected JSON shape.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse response: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
