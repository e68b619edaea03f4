package client

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrClientError     = errors.New("upstream rejected request")
	ErrNetwork         = errors.New("network error")
	ErrParse           = errors.New("parse upstream payload")
)

// Result is what every adapter returns: Data is always usable, Reason is empty on success
// and carries an ErrorCategory when Data is the endpoint's empty sentinel.
type Result[T any] struct {
	Data   T
	Reason string
}

// OK reports whether the upstream call succeeded.
func (r Result[T]) OK() bool {
	return r.Reason == ""
}

func succeeded[T any](data T) Result[T] {
	return Result[T]{Data: data}
}

// failed builds the empty Result for err and records the degradation.
func failed[T any](ctx context.Context, t *transport, empty T, err error) Result[T] {
	reason := string(CategorizeError(err))
	if reason == "" {
		reason = string(ErrorCategoryUnknown)
	}
	t.degraded(ctx, reason, err)
	return Result[T]{Data: empty, Reason: reason}
}

// recoverInto is deferred by adapter entry points so a panic while parsing an
// upstream payload becomes an empty Result instead of crossing the adapter boundary.
func recoverInto[T any](ctx context.Context, res *Result[T], empty T, t *transport) {
	if r := recover(); r != nil {
		*res = Result[T]{Data: empty, Reason: string(ErrorCategoryPanic)}
		t.degraded(ctx, res.Reason, fmt.Errorf("panic: %v", r))
	}
}
