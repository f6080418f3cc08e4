package rate

import "errors"

var (
	// ErrStoreUnavailable wraps any Redis failure observed by the limiter.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	// ErrInvalidLimit is returned when a check is requested with a non-positive window or limit.
	ErrInvalidLimit = errors.New("invalid rate limit parameters")
)
