package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is matched (via errors.Is) by any call rejected with 401.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is returned when the backend answers with a non-success status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrUnauthorized) recognize 401 responses.
func (e StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}
