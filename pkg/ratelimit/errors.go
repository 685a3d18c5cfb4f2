// Package ratelimit holds the small, clock-driven limiter primitives used by
// the tool dispatcher: a cooldown, a sliding window counter and a freshness
// cache. None of them do I/O; every check-then-act pair runs under one lock.
package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// ErrLimited is matched by every LimitError.
var ErrLimited = errors.New("ratelimit: limited")

// LimitError reports which limiter rejected an action and when it may be
// retried.
type LimitError struct {
	Resource   string
	Reason     string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s %s, retry in %dms", e.Resource, e.Reason, e.RetryAfter.Milliseconds())
}

// Is lets errors.Is(err, ErrLimited) match.
func (e *LimitError) Is(target error) bool {
	return target == ErrLimited
}

// IsLimited reports whether err came from a limiter.
func IsLimited(err error) bool {
	return errors.Is(err, ErrLimited)
}
