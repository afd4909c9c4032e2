package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"payrun/internal/ledger"
)

// IdempotencyHandler lets external collaborators (ticket filing, downstream
// task creation) claim keys in the shared ledger before acting.
type IdempotencyHandler struct {
	ledger ledger.Store
	logger *slog.Logger
}

// NewIdempotencyHandler constructs the handler.
func NewIdempotencyHandler(ledgerStore ledger.Store, logger *slog.Logger) *IdempotencyHandler {
	return &IdempotencyHandler{ledger: ledgerStore, logger: logger}
}

// Register mounts the idempotency route.
func (h *IdempotencyHandler) Register(r chi.Router) {
	r.Post("/idempotency/check", h.check)
}

type idempotencyCheckRequest struct {
	Scope string `json:"scope"`
	Key   string `json:"key"`
}

// check claims the (scope, key) pair. reused=true means someone already
// claimed it and the caller must not perform the side effect.
func (h *IdempotencyHandler) check(w http.ResponseWriter, r *http.Request) {
	var req idempotencyCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Scope == "" || req.Key == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "scope and key are required"})
		return
	}

	claimed, err := h.ledger.RecordIfAbsent(r.Context(), req.Scope, req.Key)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"reused": !claimed})
}
