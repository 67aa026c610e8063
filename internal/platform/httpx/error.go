// Package httpx defines the JSON error envelope shared by every handler.
package httpx

import (
	"cmp"
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/MustafaPinjari/Ironydjango/internal/platform/requestctx"
)

// Error is one API error: a stable machine-readable code, a human-readable
// message, and the HTTP status it travels with. Details, when set, are
// folded into the envelope at the top level.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError builds an Error, defaulting the status to 500 when unset.
func NewError(code, message string, status int) Error {
	return Error{
		Code:    oneLine(code, 80),
		Message: oneLine(message, 512),
		Status:  cmp.Or(status, http.StatusInternalServerError),
	}
}

// WithDetails returns a copy of the error carrying extra envelope fields.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) > 0 {
		e.Details = maps.Clone(details)
	}
	return e
}

// WriteError renders the envelope. The request and trace identifiers come
// from the context so handlers never thread them by hand.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := cmp.Or(err.Status, http.StatusInternalServerError)

	envelope := map[string]any{
		"error":   err.Code,
		"message": err.Message,
		"status":  status,
	}
	if requestID := oneLine(middleware.GetReqID(ctx), 80); requestID != "" {
		envelope["request_id"] = requestID
	}
	if traceID := oneLine(requestctx.TraceID(ctx), 64); traceID != "" {
		envelope["trace_id"] = traceID
	}
	maps.Copy(envelope, err.Details)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope)
}

var newlineReplacer = strings.NewReplacer("\n", " ", "\r", " ")

func oneLine(value string, limit int) string {
	value = strings.TrimSpace(newlineReplacer.Replace(value))
	if limit > 0 && len(value) > limit {
		value = value[:limit]
	}
	return value
}
