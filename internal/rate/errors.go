package rate

import "errors"

var (
	// ErrRateLimited is returned when a scope is over budget or blocked.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps transport-level Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrUnknownAction is returned for an action with no configured policy.
	ErrUnknownAction = errors.New("unknown rate limit action")
)
