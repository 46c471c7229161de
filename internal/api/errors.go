// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/ytrelay/internal/domain/stream"
	"github.com/ManuGH/ytrelay/internal/log"
)

// Problem is the single error body returned by every endpoint.
type Problem struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, r *http.Request, code int, reason, detail string) {
	writeJSON(w, code, Problem{
		Error:     reason,
		Detail:    detail,
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

// statusFor maps a resolution error onto status code and reason.
func statusFor(err error) (int, string) {
	var fail *stream.ResolutionFailure
	switch {
	case errors.Is(err, stream.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.As(err, &fail):
		switch {
		case fail.OnlyQualityRejected():
			return http.StatusUnprocessableEntity, "quality_rejected"
		case fail.Reason == stream.ReasonNoProvidersAvailable:
			return http.StatusInternalServerError, string(fail.Reason)
		default:
			return http.StatusServiceUnavailable, string(fail.Reason)
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeResolveError(w http.ResponseWriter, r *http.Request, err error) {
	code, reason := statusFor(err)
	detail := err.Error()
	if code == http.StatusUnprocessableEntity {
		detail = "high quality not available"
	}
	if code >= http.StatusInternalServerError {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Warn().Err(err).
			Str(log.FieldEvent, "api.resolve_failed").
			Str(log.FieldReason, reason).
			Int("status", code).
			Msg("resolution failed")
	}
	writeProblem(w, r, code, reason, detail)
}
