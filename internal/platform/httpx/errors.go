// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// ErrMalformedBody is returned when a request body cannot be decoded.
var ErrMalformedBody = errors.New("malformed request body")

// ErrorMapping binds a domain sentinel to an HTTP status. Mappings are tried
// in order, so more specific errors go first.
type ErrorMapping struct {
	Target error
	Status int
	Title  string
}

// RespondError maps domain errors to HTTP responses using RFC7807. Unmapped
// errors become a 500 without detail. r may be nil.
func RespondError(w http.ResponseWriter, r *http.Request, err error, mappings ...ErrorMapping) {
	for _, m := range mappings {
		if errors.Is(err, m.Target) {
			ProblemFor(w, r, m.Status, m.Title, err.Error())
			return
		}
	}
	if errors.Is(err, ErrMalformedBody) {
		ProblemFor(w, r, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	ProblemFor(w, r, http.StatusInternalServerError, "Internal Error", "")
}
