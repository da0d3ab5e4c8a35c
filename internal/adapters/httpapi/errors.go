// Package httpapi exposes the medipay JSON API.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"medipay/internal/auth"
	"medipay/internal/core"
	"medipay/internal/projection"
	"medipay/internal/statements"
)

// jsonError represents a JSON error payload.
type jsonError struct {
	Error      string           `json:"error"`
	Details    string           `json:"details,omitempty"`
	Violations []core.Violation `json:"violations,omitempty"`
}

// WriteJSONError writes a JSON error payload with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, jsonError{Error: message, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps an error returned by the service layer to a status
// code. Unclassified errors are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var violation core.RuleViolationError
	switch {
	case errors.As(err, &violation):
		writeJSON(w, http.StatusUnprocessableEntity, jsonError{
			Error:      "rule_violation",
			Details:    err.Error(),
			Violations: violation.Result.Violations,
		})
	case errors.Is(err, core.ErrValidation),
		errors.Is(err, projection.ErrInvalidInput),
		errors.Is(err, statements.ErrUnsupportedFormat):
		WriteJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		WriteJSONError(w, http.StatusUnauthorized, "invalid_credentials", "")
	case errors.Is(err, auth.ErrInvalidToken):
		WriteJSONError(w, http.StatusUnauthorized, "unauthorized", "")
	case core.IsNotFound(err), errors.Is(err, statements.ErrExportNotFound):
		WriteJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, core.ErrEmailTaken):
		WriteJSONError(w, http.StatusConflict, "email_taken", "")
	case errors.Is(err, core.ErrNoInstallment):
		WriteJSONError(w, http.StatusConflict, "no_installment", "add a prescription before paying")
	case errors.Is(err, statements.ErrNotReady):
		WriteJSONError(w, http.StatusConflict, "export_not_ready", err.Error())
	case errors.Is(err, statements.ErrQueueFull):
		WriteJSONError(w, http.StatusServiceUnavailable, "export_queue_full", "please retry")
	default:
		logger.Error("http_internal_error",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
			"error", err,
		)
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "please retry")
	}
}
