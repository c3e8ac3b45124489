package domain

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrBreakerOpen = errors.New("circuit breaker open")
	ErrLockHeld    = errors.New("lock already held")
	ErrBadResponse = errors.New("malformed provider response")
)
