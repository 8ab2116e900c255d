package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"mercator-hq/turnstile/pkg/limits"
)

// ErrorResponse is the body of every non-2xx response that is not an
// admission decision.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one error.
type ErrorDetail struct {
	// Message is a human-readable error message.
	Message string `json:"message"`

	// Type categorizes the error.
	Type string `json:"type"`

	// Param is the request field that caused the error, if any.
	Param string `json:"param,omitempty"`
}

// Error types.
const (
	ErrorTypeInvalidRequest    = "invalid_request_error"
	ErrorTypeAuthentication    = "authentication_error"
	ErrorTypeNotFound          = "not_found"
	ErrorTypeRateLimitExceeded = "rate_limit_exceeded"
	ErrorTypeServerError       = "server_error"
)

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, errType, message, param string) {
	writeJSON(w, code, ErrorResponse{Error: ErrorDetail{
		Message: message,
		Type:    errType,
		Param:   param,
	}})
}

// decisionStatus maps an admission result to its HTTP status.
func decisionStatus(result limits.AdmissionResult) int {
	switch {
	case result.Allowed:
		return http.StatusOK
	case result.Dimension == "":
		return http.StatusBadRequest
	default:
		return http.StatusTooManyRequests
	}
}

// setLimitHeaders copies the result metadata onto the response.
func setLimitHeaders(w http.ResponseWriter, result limits.AdmissionResult) {
	for k, v := range result.Metadata {
		w.Header().Set(k, v)
	}
}

// writeDecision writes result as the response to an admission endpoint.
func writeDecision(w http.ResponseWriter, result limits.AdmissionResult) {
	setLimitHeaders(w, result)
	writeJSON(w, decisionStatus(result), result)
}
