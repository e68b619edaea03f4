package client

import (
	"context"
	"errors"
	"net"

	"github.com/kjstillabower/trends-watcher/internal/circuitbreaker"
)

// ErrorCategory is the stable reason an adapter degraded. It labels sourceDegradedTotal
// and fills Result.Reason.
type ErrorCategory string

const (
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategoryNetwork     ErrorCategory = "network"
	ErrorCategoryRateLimited ErrorCategory = "rate_limited"
	ErrorCategoryClientError ErrorCategory = "client_error"
	ErrorCategoryUpstream5xx ErrorCategory = "upstream_5xx"
	ErrorCategoryParsing     ErrorCategory = "parsing"
	ErrorCategoryCircuitOpen ErrorCategory = "circuit_open"
	ErrorCategoryPanic       ErrorCategory = "panic"
	ErrorCategoryUnknown     ErrorCategory = "unknown"
)

// sentinelCategories is checked in order; the first match wins.
var sentinelCategories = []struct {
	err      error
	category ErrorCategory
}{
	{context.DeadlineExceeded, ErrorCategoryTimeout},
	{context.Canceled, ErrorCategoryTimeout},
	{circuitbreaker.ErrOpen, ErrorCategoryCircuitOpen},
	{ErrRateLimited, ErrorCategoryRateLimited},
	{ErrClientError, ErrorCategoryClientError},
	{ErrUpstreamFailure, ErrorCategoryUpstream5xx},
	{ErrParse, ErrorCategoryParsing},
	{ErrNetwork, ErrorCategoryNetwork},
}

// CategorizeError maps an adapter error to its ErrorCategory. A nil error has no category.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorCategoryTimeout
	}
	for _, sc := range sentinelCategories {
		if errors.Is(err, sc.err) {
			return sc.category
		}
	}
	if netErr != nil {
		return ErrorCategoryNetwork
	}
	return ErrorCategoryUnknown
}
