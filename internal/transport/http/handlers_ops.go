package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	outcomeservice "payrun/internal/outcome/service"
	runmodels "payrun/internal/run/models"
	runstore "payrun/internal/run/store"
	"payrun/internal/scheduler"
	"payrun/pkg/domain"
	"payrun/pkg/platform/sentinel"
)

// OpsHandler serves the operator surface: manual runs, manual reruns, run
// inspection, and the manual tick trigger. Manual runs deliberately bypass
// the scheduler's ledger claim: an operator asking for a run gets one even
// for a period the scheduler already executed.
type OpsHandler struct {
	runs      runstore.Store
	outcomes  *outcomeservice.Service
	executor  *scheduler.Executor
	scheduler *scheduler.Service
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewOpsHandler constructs the handler.
func NewOpsHandler(
	runs runstore.Store,
	outcomes *outcomeservice.Service,
	executor *scheduler.Executor,
	sched *scheduler.Service,
	logger *slog.Logger,
) *OpsHandler {
	return &OpsHandler{
		runs:      runs,
		outcomes:  outcomes,
		executor:  executor,
		scheduler: sched,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Register mounts the operator routes.
func (h *OpsHandler) Register(r chi.Router) {
	r.Post("/ops/run", h.manualRun)
	r.Post("/ops/rerun/{id}", h.manualRerun)
	r.Get("/ops/runs/{id}", h.getRun)
	r.Post("/ops/tick", h.tick)
}

type manualRunRequest struct {
	ClientLocationID string         `json:"client_location_id" validate:"required"`
	PeriodStart      string         `json:"period_start" validate:"required,datetime=2006-01-02"`
	PeriodEnd        string         `json:"period_end" validate:"required,datetime=2006-01-02"`
	PolicySnapshot   map[string]any `json:"policy_snapshot"`
}

func (h *OpsHandler) manualRun(w http.ResponseWriter, r *http.Request) {
	var req manualRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	period, err := domain.NewPeriod(req.PeriodStart, req.PeriodEnd)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	policy := scheduler.PolicySnapshot{
		ClientLocationID: req.ClientLocationID,
		PeriodStart:      req.PeriodStart,
		PeriodEnd:        req.PeriodEnd,
		Rules:            req.PolicySnapshot,
	}
	run, outcome, _, err := h.executor.RunAuditNow(r.Context(), req.ClientLocationID, period, policy, nil)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"run": run, "outcome": outcome})
}

func (h *OpsHandler) manualRerun(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseRunID(chi.URLParam(r, "id"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid run id"})
		return
	}

	source, err := h.runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			respondJSON(w, http.StatusNotFound, map[string]string{"error": "run_not_found"})
			return
		}
		respondError(w, h.logger, err)
		return
	}

	if _, err := h.runs.AppendEvent(r.Context(), source.ID, runmodels.EventRerunRequested, map[string]any{
		"requested_by": "operator",
	}); err != nil {
		respondError(w, h.logger, err)
		return
	}

	sourceID := source.ID
	run, outcome, _, err := h.executor.RunAuditNow(r.Context(), source.ClientLocationID, source.Period, scheduler.PolicySnapshot{}, &sourceID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"previous_run_id": sourceID,
		"run":             run,
		"outcome":         outcome,
	})
}

func (h *OpsHandler) getRun(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseRunID(chi.URLParam(r, "id"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid run id"})
		return
	}

	run, err := h.runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			respondJSON(w, http.StatusNotFound, map[string]string{"error": "run_not_found"})
			return
		}
		respondError(w, h.logger, err)
		return
	}

	body := map[string]any{"run": run}
	outcome, err := h.outcomes.Get(r.Context(), id)
	if err == nil {
		body["outcome"] = outcome
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, body)
}

func (h *OpsHandler) tick(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.Tick(r.Context())
	body := map[string]any{
		"ok":       result.OK,
		"planned":  result.Planned,
		"executed": result.Executed,
		"skipped":  result.Skipped,
		"failed":   result.Failed,
	}
	if err != nil {
		body["error"] = err.Error()
	}
	respondJSON(w, http.StatusOK, body)
}
