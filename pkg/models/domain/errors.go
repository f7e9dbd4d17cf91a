package domain

import "errors"

var (
	// ErrInvalidDateRange is returned for from/to values that cannot be served.
	ErrInvalidDateRange = errors.New("invalid date range")
	// ErrInvalidFilter is returned for unknown components or bad limits.
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrUpstreamUnavailable wraps billing API or metrics store failures that
	// persisted after retries.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrPaginatedResponse is returned when the billing API asks for a second
	// page. Attributing a partial page would under-report cost.
	ErrPaginatedResponse = errors.New("paginated billing response not supported")
)

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidDateRange) || errors.Is(err, ErrInvalidFilter)
}
