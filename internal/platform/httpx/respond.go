// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeProblem = "application/problem+json"
	problemTypeDefault = "about:blank"
)

// ProblemDetail represents RFC7807 problem details. Instance carries the
// request id when one is available so log lines can be correlated.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, ProblemDetail{Title: title, Status: status, Detail: detail})
}

// ProblemFor is Problem with the request id of r as the instance.
func ProblemFor(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	p := ProblemDetail{Title: title, Status: status, Detail: detail}
	if r != nil {
		if id := middleware.GetReqID(r.Context()); id != "" {
			p.Instance = "urn:request:" + id
		}
	}
	writeProblem(w, p)
}

func writeProblem(w http.ResponseWriter, p ProblemDetail) {
	if p.Type == "" {
		p.Type = problemTypeDefault
	}
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	w.Header().Set("Content-Type", contentTypeProblem)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// DecodeJSON decodes a JSON request body into target, rejecting unknown fields.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return nil
}
