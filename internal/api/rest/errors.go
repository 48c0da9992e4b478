package rest

import (
	"encoding/json"
	"net/http"

	"github.com/carbonnexus/orchestrator/internal/middleware"
	"github.com/carbonnexus/orchestrator/pkg/types"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError sends a structured APIError.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondStructuredError(w, r, status, code, message, nil)
}

func respondStructuredError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]string) {
	respondJSON(w, status, types.APIError{
		Error:     message,
		Code:      code,
		Message:   message,
		RequestID: middleware.GetRequestID(r),
		Details:   details,
	})
}

func respondValidation(w http.ResponseWriter, r *http.Request, details map[string]string) {
	respondStructuredError(w, r, http.StatusBadRequest, types.ErrCodeValidationFailed,
		"Request validation failed", details)
}

func respondInternal(w http.ResponseWriter, r *http.Request, err error) {
	respondError(w, r, http.StatusInternalServerError, types.ErrCodeInternalError, err.Error())
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
