// Package http exposes the run lifecycle over HTTP: token issuance, the two
// click endpoints, operator endpoints, and the idempotency check.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	dErrors "payrun/pkg/domain-errors"
)

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	var dErr *dErrors.Error
	if errors.As(err, &dErr) {
		status = dErrors.ToHTTPStatus(dErr.Code)
		message = dErr.Message
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err.Error())
	}
	respondJSON(w, status, map[string]string{"error": message})
}
