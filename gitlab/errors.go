package gitlab

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound matches any StatusError with a 404 status via errors.Is.
// Callers use it to tell "does not exist" apart from transport failures.
var ErrNotFound = errors.New("gitlab: not found")

// StatusError is returned for any non-success HTTP status from the API.
// This layer does not retry; retry policy, if any, belongs to callers.
type StatusError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gitlab: %s %s returned status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("gitlab: %s %s returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is reports 404 responses as ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsNotFound reports whether err represents a 404 from the API.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
