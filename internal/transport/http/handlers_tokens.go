package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	tokenservice "payrun/internal/token/service"
	"payrun/pkg/domain"
)

// TokenHandler serves token issuance.
type TokenHandler struct {
	tokens   *tokenservice.Service
	validate *validator.Validate
	logger   *slog.Logger
}

// NewTokenHandler constructs the handler.
func NewTokenHandler(tokens *tokenservice.Service, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		tokens:   tokens,
		validate: validator.New(),
		logger:   logger,
	}
}

// Register mounts the token routes.
func (h *TokenHandler) Register(r chi.Router) {
	r.Post("/tokens/issue", h.issue)
}

type issueTokenRequest struct {
	Action      string `json:"action" validate:"required,oneof=approve rerun"`
	RunID       int64  `json:"runId" validate:"required,gt=0"`
	PeriodStart string `json:"periodStart" validate:"omitempty,datetime=2006-01-02"`
	PeriodEnd   string `json:"periodEnd" validate:"omitempty,datetime=2006-01-02"`
	TTLMinutes  int    `json:"ttlMinutes" validate:"omitempty,gt=0"`
}

func (h *TokenHandler) issue(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	token, err := h.tokens.Issue(r.Context(), req.Action, domain.RunID(req.RunID), time.Duration(req.TTLMinutes)*time.Minute)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"token": token})
}
