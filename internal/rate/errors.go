package rate

import "errors"

var (
	// ErrRateLimited is returned by callers that turn a denied Decision into an error.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable wraps failures of the bucket backend.
	ErrStoreUnavailable = errors.New("rate store unavailable")
	// ErrUnknownClass is returned when no policy exists for a class.
	ErrUnknownClass = errors.New("unknown rate limit class")
)
