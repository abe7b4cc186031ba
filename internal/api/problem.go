package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/labsync/internal/remote"
	"github.com/hyperengineering/labsync/internal/validation"
)

const problemTypeBase = "https://labsync.dev/problems/"

// Problem is an RFC 7807 Problem Details body. Errors is only set for
// validation failures.
type Problem struct {
	Type     string                       `json:"type"`
	Title    string                       `json:"title"`
	Status   int                          `json:"status"`
	Detail   string                       `json:"detail"`
	Instance string                       `json:"instance,omitempty"`
	Errors   []validation.ValidationError `json:"errors,omitempty"`
}

// problemSlugs names the type URI suffix for each status the API emits.
var problemSlugs = map[int]string{
	http.StatusBadRequest:          "bad-request",
	http.StatusUnauthorized:        "unauthorized",
	http.StatusNotFound:            "not-found",
	http.StatusConflict:            "conflict",
	http.StatusUnprocessableEntity: "validation-error",
	http.StatusInternalServerError: "internal-error",
	http.StatusBadGateway:          "storage-unavailable",
	http.StatusServiceUnavailable:  "service-unavailable",
}

func newProblem(r *http.Request, status int, detail string) Problem {
	slug, ok := problemSlugs[status]
	if !ok {
		slug = "unknown"
	}
	title := http.StatusText(status)
	if status == http.StatusUnprocessableEntity {
		title = "Validation Error"
	}
	return Problem{
		Type:     problemTypeBase + slug,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
}

func writeProblemBody(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "component", "api", "error", err)
	}
}

// WriteProblem writes an RFC 7807 response for status.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeProblemBody(w, newProblem(r, status, detail))
}

// WriteProblemWithErrors writes a 422 problem listing the rejected fields.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	p := newProblem(r, http.StatusUnprocessableEntity, detail)
	p.Errors = errs
	writeProblemBody(w, p)
}

// MapStoreError translates a remote.Store error into a problem response.
// Unrecognised errors are logged and reported as a bare 500.
func MapStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, remote.ErrUnknownTable):
		WriteProblem(w, r, http.StatusNotFound, "Unknown table")
	case errors.Is(err, remote.ErrUniqueViolation):
		WriteProblem(w, r, http.StatusConflict, "Unique constraint violated")
	case errors.Is(err, remote.ErrInvalidColumn):
		WriteProblem(w, r, http.StatusBadRequest, "Invalid column name")
	case errors.Is(err, context.DeadlineExceeded):
		WriteProblem(w, r, http.StatusServiceUnavailable, "Store timed out")
	default:
		slog.Error("store error",
			"component", "api",
			"request_id", GetRequestID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
