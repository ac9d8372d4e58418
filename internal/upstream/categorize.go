package upstream

import (
	"context"
	"errors"
	"net"

	"github.com/kjstillabower/eink-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/eink-dashboard/internal/observability"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

const (
	ErrorCategoryTimeout       ErrorCategory = "timeout"
	ErrorCategoryNetwork       ErrorCategory = "network"
	ErrorCategoryCircuitOpen   ErrorCategory = "circuit_open"
	ErrorCategoryNotConfigured ErrorCategory = "not_configured"
	ErrorCategoryUpstream4xx   ErrorCategory = "upstream_4xx"
	ErrorCategoryUpstream5xx   ErrorCategory = "upstream_5xx"
	ErrorCategoryParsing       ErrorCategory = "parsing"
	ErrorCategoryUnknown       ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics and logs.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, circuitbreaker.ErrOpen) {
		return ErrorCategoryCircuitOpen
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}
	if errors.Is(err, ErrMissingURL) {
		return ErrorCategoryNotConfigured
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode >= 500 {
			return ErrorCategoryUpstream5xx
		}
		return ErrorCategoryUpstream4xx
	}

	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return ErrorCategoryParsing
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorCategoryTimeout
	}

	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return ErrorCategoryNetwork
	}

	return ErrorCategoryUnknown
}

// RecordError counts a failed upstream interaction. Callers use it for parse failures
// detected after a successful transfer; Client.Get records its own failures.
func RecordError(source string, err error) {
	if err == nil {
		return
	}
	observability.UpstreamErrorsTotal.WithLabelValues(source, string(CategorizeError(err))).Inc()
}
