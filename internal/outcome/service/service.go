// Package service builds Outcome records. Building an outcome is the moment
// the approve/rerun token pair comes into existence: every outcome carries
// exactly one of each.
package service

import (
	"context"
	"time"

	outcomemodels "payrun/internal/outcome/models"
	outcomestore "payrun/internal/outcome/store"
	tokenmodels "payrun/internal/token/models"
	tokenservice "payrun/internal/token/service"
	"payrun/pkg/domain"
	dErrors "payrun/pkg/domain-errors"
)

// TokenPair is the approve/rerun capability pair issued for one run.
type TokenPair struct {
	Approve *tokenmodels.Token `json:"approve"`
	Rerun   *tokenmodels.Token `json:"rerun"`
}

// BuildInput carries everything needed to assemble a run's outcome.
type BuildInput struct {
	RunID     domain.RunID
	Findings  []outcomemodels.Finding
	Artifacts []outcomemodels.Artifact
	Delivery  outcomemodels.Delivery
}

// Service assembles and persists outcomes.
type Service struct {
	store  outcomestore.Store
	tokens *tokenservice.Service
}

// New constructs an outcome service.
func New(store outcomestore.Store, tokens *tokenservice.Service) (*Service, error) {
	if store == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "outcome store is required")
	}
	if tokens == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "token service is required")
	}
	return &Service{store: store, tokens: tokens}, nil
}

// Build creates the run's outcome and its token pair. Delivery mode defaults
// to internal_only when the caller leaves it unset.
func (s *Service) Build(ctx context.Context, in BuildInput) (*outcomemodels.Outcome, *TokenPair, error) {
	if in.RunID.IsNil() {
		return nil, nil, dErrors.New(dErrors.CodeValidation, "run id is required")
	}

	pair, err := s.IssuePair(ctx, in.RunID)
	if err != nil {
		return nil, nil, err
	}

	delivery := in.Delivery
	if delivery.Mode == "" {
		delivery.Mode = outcomemodels.DeliveryInternalOnly
	}

	now := time.Now()
	outcome := &outcomemodels.Outcome{
		RunID:        in.RunID,
		Findings:     in.Findings,
		Artifacts:    in.Artifacts,
		Delivery:     delivery,
		ApproveToken: pair.Approve.ID,
		RerunToken:   pair.Rerun.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, outcome); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeConflict, "outcome already exists for run")
	}
	return outcome, pair, nil
}

// IssuePair mints a fresh approve+rerun token pair for a run. Used at build
// time and again when a rerun spawns a new run.
func (s *Service) IssuePair(ctx context.Context, runID domain.RunID) (*TokenPair, error) {
	approve, err := s.tokens.Issue(ctx, string(tokenmodels.ActionApprove), runID, 0)
	if err != nil {
		return nil, err
	}
	rerun, err := s.tokens.Issue(ctx, string(tokenmodels.ActionRerun), runID, 0)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Approve: approve, Rerun: rerun}, nil
}

// Get returns the outcome for a run.
func (s *Service) Get(ctx context.Context, runID domain.RunID) (*outcomemodels.Outcome, error) {
	return s.store.GetByRun(ctx, runID)
}

// List returns every outcome. The scheduler feeds this to the planner.
func (s *Service) List(ctx context.Context) ([]*outcomemodels.Outcome, error) {
	return s.store.List(ctx)
}

// Apply merge-patches the outcome for a run.
func (s *Service) Apply(ctx context.Context, runID domain.RunID, patch outcomestore.Patch) (*outcomemodels.Outcome, error) {
	return s.store.Apply(ctx, runID, patch)
}
