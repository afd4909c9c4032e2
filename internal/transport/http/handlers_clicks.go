package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"payrun/internal/approval"
	"payrun/pkg/domain"
)

// ClickHandler serves the two endpoints approval-link clicks land on. Both
// always answer 200 with a status body: the caller is a human in a mail
// client, and the body is the whole story.
type ClickHandler struct {
	approvals *approval.Service
	logger    *slog.Logger
}

// NewClickHandler constructs the handler.
func NewClickHandler(approvals *approval.Service, logger *slog.Logger) *ClickHandler {
	return &ClickHandler{approvals: approvals, logger: logger}
}

// Register mounts the click routes. GET is what mail clients produce; POST
// is kept for programmatic callers.
func (h *ClickHandler) Register(r chi.Router) {
	r.Get("/approve", h.approve)
	r.Post("/approve", h.approve)
	r.Get("/rerun", h.rerun)
	r.Post("/rerun", h.rerun)
}

func (h *ClickHandler) approve(w http.ResponseWriter, r *http.Request) {
	h.click(w, r, h.approvals.Approve)
}

func (h *ClickHandler) rerun(w http.ResponseWriter, r *http.Request) {
	h.click(w, r, h.approvals.Rerun)
}

func (h *ClickHandler) click(w http.ResponseWriter, r *http.Request, apply func(context.Context, domain.TokenID) (*approval.Result, error)) {
	tokenID := domain.TokenID(r.URL.Query().Get("token"))
	if tokenID.IsNil() {
		respondJSON(w, http.StatusOK, &approval.Result{Status: approval.StatusInvalid, Reason: "missing"})
		return
	}

	result, err := apply(r.Context(), tokenID)
	if err != nil {
		// Infrastructure failure, not a state-machine verdict. The click
		// still gets a body.
		h.logger.Error("click could not be applied", "error", err.Error())
		respondJSON(w, http.StatusOK, &approval.Result{Status: approval.StatusInvalid, Reason: "internal"})
		return
	}
	respondJSON(w, http.StatusOK, result)
}
