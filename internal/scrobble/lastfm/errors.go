package lastfm

import (
	"errors"
	"fmt"
)

// ErrAuth is returned by New when the session exchange fails.
var ErrAuth = errors.New("lastfm: authentication failed")

func IsAuth(err error) bool { return errors.Is(err, ErrAuth) }

// APIError is a top-level error reported by the service.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %s: %s", e.Code, e.Message)
}

// RejectedError is a scrobble the service received but ignored.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("scrobble rejected (code %s): %s", e.Code, e.Message)
}
