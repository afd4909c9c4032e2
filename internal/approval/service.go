// Package approval applies approve and rerun tokens to runs.
//
// The state machine has one hard guarantee: a run is approved by at most one
// token click, even when two valid tokens race. The guarantee rests on the
// run store's atomic Lock transition; everything else here is the
// consume-on-reject discipline and failure reporting around it.
package approval

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"payrun/internal/notify"
	outcomeservice "payrun/internal/outcome/service"
	"payrun/internal/platform/metrics"
	runmodels "payrun/internal/run/models"
	runstore "payrun/internal/run/store"
	tokenmodels "payrun/internal/token/models"
	tokenservice "payrun/internal/token/service"
	"payrun/pkg/domain"
	dErrors "payrun/pkg/domain-errors"
	"payrun/pkg/platform/sentinel"
)

// Outcome statuses returned to the click endpoints. The endpoints always
// answer 200 with one of these in the body.
const (
	StatusApproved     = "approved"
	StatusLocked       = "locked"
	StatusRerunCreated = "rerun_created"
	StatusInvalid      = "invalid"
	StatusMissingRun   = "missing_run"
)

// ReasonInvalidAction marks a token presented against the wrong endpoint.
const ReasonInvalidAction = "invalid_action"

// Result is the outcome of presenting a token to the state machine.
type Result struct {
	Status string                    `json:"status"`
	Reason string                    `json:"reason,omitempty"`
	Run    *runmodels.Run            `json:"run,omitempty"`
	Tokens *outcomeservice.TokenPair `json:"tokens,omitempty"`
}

// PairIssuer mints a fresh approve+rerun token pair for a run. Satisfied by
// the outcome service.
type PairIssuer interface {
	IssuePair(ctx context.Context, runID domain.RunID) (*outcomeservice.TokenPair, error)
}

// Service is the approval state machine.
type Service struct {
	runs       runstore.Store
	tokens     *tokenservice.Service
	pairs      PairIssuer
	reporter   *notify.Reporter
	dispatcher *notify.Dispatcher
	publisher  notify.EventPublisher
	recipients []string
	metrics    *metrics.Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
}

// New constructs the state machine. publisher may be nil; a no-op is
// substituted.
func New(
	runs runstore.Store,
	tokens *tokenservice.Service,
	pairs PairIssuer,
	reporter *notify.Reporter,
	dispatcher *notify.Dispatcher,
	publisher notify.EventPublisher,
	recipients []string,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*Service, error) {
	if runs == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "run store is required")
	}
	if tokens == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "token service is required")
	}
	if pairs == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "pair issuer is required")
	}
	if reporter == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "failure reporter is required")
	}
	if publisher == nil {
		publisher = notify.NoopPublisher{}
	}
	return &Service{
		runs:       runs,
		tokens:     tokens,
		pairs:      pairs,
		reporter:   reporter,
		dispatcher: dispatcher,
		publisher:  publisher,
		recipients: recipients,
		metrics:    m,
		logger:     logger,
		tracer:     otel.Tracer("payrun/approval"),
	}, nil
}

// Approve applies an approve token. Exactly one caller per run ever gets
// StatusApproved; every later caller gets StatusLocked.
func (s *Service) Approve(ctx context.Context, tokenID domain.TokenID) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "approval.Approve",
		trace.WithAttributes(attribute.String("token_id", tokenID.String())))
	defer span.End()

	token, run, rejected, err := s.admit(ctx, "approve_click", tokenID, tokenmodels.ActionApprove)
	if err != nil || rejected != nil {
		return rejected, err
	}

	won, err := s.runs.Lock(ctx, run.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "lock run")
	}

	if !won {
		updated, evErr := s.appendEvent(ctx, run.ID, runmodels.EventApprovalNoop, map[string]any{
			"token_id": token.ID.String(),
		})
		if evErr != nil {
			return nil, evErr
		}
		if s.metrics != nil {
			s.metrics.ApprovalNoops.Inc()
		}
		s.logger.InfoContext(ctx, "approval no-op, run already locked", "run_id", run.ID.String())
		return &Result{Status: StatusLocked, Run: updated}, nil
	}

	updated, err := s.appendEvent(ctx, run.ID, runmodels.EventApproved, map[string]any{
		"token_id": token.ID.String(),
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ApprovalsCommitted.Inc()
	}
	s.logger.InfoContext(ctx, "run approved", "run_id", run.ID.String(), "token_id", token.ID.String())
	return &Result{Status: StatusApproved, Run: updated}, nil
}

// Rerun applies a rerun token: spawns a fresh run for the same location and
// period, pointing back at the source, with its own token pair. Notification
// of the configured recipients is best-effort and never fails the rerun.
func (s *Service) Rerun(ctx context.Context, tokenID domain.TokenID) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "approval.Rerun",
		trace.WithAttributes(attribute.String("token_id", tokenID.String())))
	defer span.End()

	token, source, rejected, err := s.admit(ctx, "rerun_click", tokenID, tokenmodels.ActionRerun)
	if err != nil || rejected != nil {
		return rejected, err
	}

	if _, err := s.appendEvent(ctx, source.ID, runmodels.EventRerunRequested, map[string]any{
		"token_id": token.ID.String(),
	}); err != nil {
		return nil, err
	}

	sourceID := source.ID
	created, err := s.runs.Create(ctx, runstore.CreateRun{
		ClientLocationID: source.ClientLocationID,
		Period:           source.Period,
		RerunOf:          &sourceID,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create rerun")
	}

	created, err = s.appendEvent(ctx, created.ID, runmodels.EventRerunCreated, map[string]any{
		"source_run_id": sourceID.String(),
	})
	if err != nil {
		return nil, err
	}

	pair, err := s.pairs.IssuePair(ctx, created.ID)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RerunsCreated.Inc()
	}
	s.logger.InfoContext(ctx, "rerun created",
		"source_run_id", sourceID.String(),
		"run_id", created.ID.String(),
	)

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(notify.RerunNotice{
			SourceRunID:    sourceID,
			Run:            created,
			ApproveTokenID: pair.Approve.ID,
			RerunTokenID:   pair.Rerun.ID,
			Recipients:     s.recipients,
		})
	}

	return &Result{Status: StatusRerunCreated, Run: created, Tokens: pair}, nil
}

// admit runs the shared validation/consumption discipline. It returns a
// non-nil Result when the presentation was rejected; the caller returns it
// as-is. On acceptance the token has already been consumed.
func (s *Service) admit(ctx context.Context, step string, tokenID domain.TokenID, want tokenmodels.Action) (*tokenmodels.Token, *runmodels.Run, *Result, error) {
	now := time.Now()

	validation, err := s.tokens.Validate(ctx, tokenID, now)
	if err != nil {
		return nil, nil, nil, err
	}
	if !validation.Valid {
		s.reporter.Report(ctx, step, errors.New("token rejected: "+validation.Reason), s.runIDOf(validation.Token), map[string]any{
			"token_id": tokenID.String(),
			"reason":   validation.Reason,
		})
		s.burn(ctx, validation.Token)
		return nil, nil, &Result{Status: StatusInvalid, Reason: validation.Reason}, nil
	}

	token := validation.Token
	if token.Action != want {
		s.reporter.Report(ctx, step, errors.New("token action mismatch"), token.RunID, map[string]any{
			"token_id": tokenID.String(),
			"want":     string(want),
			"got":      string(token.Action),
		})
		s.burn(ctx, token)
		return nil, nil, &Result{Status: StatusInvalid, Reason: ReasonInvalidAction}, nil
	}

	run, err := s.runs.Get(ctx, token.RunID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.reporter.Report(ctx, step, errors.New("run not found for token"), token.RunID, map[string]any{
				"token_id": tokenID.String(),
			})
			s.burn(ctx, token)
			return nil, nil, &Result{Status: StatusMissingRun}, nil
		}
		return nil, nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "fetch run")
	}

	// Burn the token before touching the run. If two presentations of the
	// same token race, only the one that wins the issued->consumed
	// transition proceeds.
	if _, err := s.tokens.Consume(ctx, tokenID, now); err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			return nil, nil, &Result{Status: StatusInvalid, Reason: "status:" + string(tokenmodels.StatusConsumed)}, nil
		}
		return nil, nil, nil, err
	}

	return token, run, nil, nil
}

// burn consumes a token on a rejection path so a rejected token cannot be
// probed again. Errors here are already handled inside the token service.
func (s *Service) burn(ctx context.Context, token *tokenmodels.Token) {
	if token == nil || token.Status != tokenmodels.StatusIssued {
		return
	}
	if _, err := s.tokens.Consume(ctx, token.ID, time.Now()); err != nil {
		s.logger.WarnContext(ctx, "could not burn rejected token",
			"token_id", token.ID.String(),
			"error", err.Error(),
		)
	}
}

func (s *Service) appendEvent(ctx context.Context, id domain.RunID, eventType runmodels.EventType, payload map[string]any) (*runmodels.Run, error) {
	run, err := s.runs.AppendEvent(ctx, id, eventType, payload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "append event")
	}
	if len(run.Events) > 0 {
		s.publisher.PublishRunEvent(ctx, id, run.Events[len(run.Events)-1])
	}
	return run, nil
}

func (s *Service) runIDOf(token *tokenmodels.Token) domain.RunID {
	if token == nil {
		return 0
	}
	return token.RunID
}
