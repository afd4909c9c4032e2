package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"payrun/internal/ledger"
	"payrun/internal/notify"
	outcomemodels "payrun/internal/outcome/models"
	outcomeservice "payrun/internal/outcome/service"
	outcomestore "payrun/internal/outcome/store"
	"payrun/internal/platform/metrics"
	runmodels "payrun/internal/run/models"
	runstore "payrun/internal/run/store"
	"payrun/pkg/domain"
	dErrors "payrun/pkg/domain-errors"
)

// Executor runs planned actions with at-most-once semantics. Every action's
// key is claimed in the ledger before anything happens; a claim that was
// already taken means some earlier or concurrent tick owns the action, and
// the executor walks away silently.
//
// At-most-once is deliberate: a claimed action that then fails is not
// retried by the next tick. Retrying is an operator decision, made with the
// failure notification in hand.
type Executor struct {
	ledger    ledger.Store
	runs      runstore.Store
	outcomes  *outcomeservice.Service
	auditor   Auditor
	artifacts ArtifactBuilder
	composer  EmailComposer
	sender    EmailSender
	publisher notify.EventPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewExecutor constructs an executor. publisher may be nil.
func NewExecutor(
	ledgerStore ledger.Store,
	runs runstore.Store,
	outcomes *outcomeservice.Service,
	auditor Auditor,
	artifacts ArtifactBuilder,
	composer EmailComposer,
	sender EmailSender,
	publisher notify.EventPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*Executor, error) {
	if ledgerStore == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "ledger store is required")
	}
	if runs == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "run store is required")
	}
	if outcomes == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "outcome service is required")
	}
	if publisher == nil {
		publisher = notify.NoopPublisher{}
	}
	return &Executor{
		ledger:    ledgerStore,
		runs:      runs,
		outcomes:  outcomes,
		auditor:   auditor,
		artifacts: artifacts,
		composer:  composer,
		sender:    sender,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}, nil
}

// Execute claims and runs one action. skipped is true when the ledger had
// already recorded the action's key. A returned error means the claim was
// taken but execution failed; the caller reports it and moves on.
func (e *Executor) Execute(ctx context.Context, action Action) (skipped bool, err error) {
	claimed, err := e.ledger.RecordIfAbsent(ctx, ledger.ScopeSchedulerAction, action.Key())
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "claim action")
	}
	if !claimed {
		if e.metrics != nil {
			e.metrics.ActionsSkipped.WithLabelValues(action.Kind()).Inc()
		}
		e.logger.DebugContext(ctx, "action already claimed", "key", action.Key())
		return true, nil
	}

	switch a := action.(type) {
	case RunAudit:
		err = e.runAudit(ctx, a)
	case SendEmail:
		err = e.sendEmail(ctx, a)
	default:
		err = dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("unknown action kind %q", action.Kind()))
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.ActionsFailed.WithLabelValues(action.Kind()).Inc()
		}
		return false, err
	}

	if e.metrics != nil {
		e.metrics.ActionsExecuted.WithLabelValues(action.Kind()).Inc()
	}
	return false, nil
}

// RunAuditNow executes an audit for the given inputs outside the ledger
// guard. This is the path manual operator runs and reruns take: an operator
// asking for a run gets one even when the scheduler already claimed the
// same period.
func (e *Executor) RunAuditNow(ctx context.Context, locationID string, period domain.Period, policy PolicySnapshot, rerunOf *domain.RunID) (*runmodels.Run, *outcomemodels.Outcome, *outcomeservice.TokenPair, error) {
	run, err := e.runs.Create(ctx, runstore.CreateRun{
		ClientLocationID: locationID,
		Period:           period,
		RerunOf:          rerunOf,
	})
	if err != nil {
		return nil, nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "create run")
	}
	if e.metrics != nil {
		e.metrics.RunsCreated.Inc()
	}

	run, outcome, pair, err := e.performAudit(ctx, run, policy)
	if err != nil {
		return run, nil, nil, err
	}
	return run, outcome, pair, nil
}

func (e *Executor) runAudit(ctx context.Context, action RunAudit) error {
	run, err := e.runs.Create(ctx, runstore.CreateRun{
		ClientLocationID: action.ClientLocationID,
		Period:           action.Period,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "create run")
	}
	if e.metrics != nil {
		e.metrics.RunsCreated.Inc()
	}

	_, _, _, err = e.performAudit(ctx, run, action.Policy)
	return err
}

// performAudit drives a created run through audit, artifact generation, and
// outcome persistence. On any failure the run is marked failed with a
// run_failed event naming the step, then the error is returned.
func (e *Executor) performAudit(ctx context.Context, run *runmodels.Run, policy PolicySnapshot) (*runmodels.Run, *outcomemodels.Outcome, *outcomeservice.TokenPair, error) {
	if _, err := e.appendEvent(ctx, run.ID, runmodels.EventRunCreated, map[string]any{
		"client_location_id": run.ClientLocationID,
		"period_start":       run.Period.Start,
		"period_end":         run.Period.End,
	}); err != nil {
		return run, nil, nil, err
	}

	if _, err := e.patchStatus(ctx, run.ID, runmodels.StatusRunning); err != nil {
		return run, nil, nil, err
	}

	findings, err := e.auditor.Audit(ctx, policy, run)
	if err != nil {
		e.markFailed(ctx, run.ID, "audit", err)
		return run, nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "audit run")
	}

	artifacts := e.buildArtifacts(ctx, run, findings)

	outcome, pair, err := e.outcomes.Build(ctx, outcomeservice.BuildInput{
		RunID:     run.ID,
		Findings:  findings,
		Artifacts: artifacts,
	})
	if err != nil {
		e.markFailed(ctx, run.ID, "build_outcome", err)
		return run, nil, nil, err
	}

	if _, err := e.appendEvent(ctx, run.ID, runmodels.EventOutcomeSaved, map[string]any{
		"findings":  len(findings),
		"artifacts": len(artifacts),
	}); err != nil {
		return run, nil, nil, err
	}

	run, err = e.patchStatus(ctx, run.ID, runmodels.StatusCompleted)
	if err != nil {
		return run, nil, nil, err
	}

	e.logger.InfoContext(ctx, "audit run completed",
		"run_id", run.ID.String(),
		"client_location_id", run.ClientLocationID,
		"findings", len(findings),
	)
	return run, outcome, pair, nil
}

// buildArtifacts fans artifact generation out across kinds. A failed kind
// becomes a failed artifact in the outcome; it never sinks its siblings or
// the run.
func (e *Executor) buildArtifacts(ctx context.Context, run *runmodels.Run, findings []outcomemodels.Finding) []outcomemodels.Artifact {
	if e.artifacts == nil {
		return nil
	}
	kinds := e.artifacts.Kinds()
	if len(kinds) == 0 {
		return nil
	}

	artifacts := make([]outcomemodels.Artifact, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			artifact, err := e.artifacts.Build(gctx, kind, run, findings)
			if err != nil {
				e.logger.WarnContext(gctx, "artifact generation failed",
					"run_id", run.ID.String(),
					"kind", kind,
					"error", err.Error(),
				)
				artifacts[i] = outcomemodels.Artifact{
					Type:   kind,
					Status: outcomemodels.ArtifactFailed,
					Error:  err.Error(),
				}
				return nil
			}
			artifacts[i] = artifact
			return nil
		})
	}
	_ = g.Wait() // workers never return errors, failures land in the slice
	return artifacts
}

func (e *Executor) sendEmail(ctx context.Context, action SendEmail) error {
	run, err := e.runs.Get(ctx, action.RunID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "resolve run for email")
	}
	outcome, err := e.outcomes.Get(ctx, action.RunID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "resolve outcome for email")
	}

	if outcome.Delivery.Mode != outcomemodels.DeliveryEmail {
		e.logger.DebugContext(ctx, "outcome not in email mode, nothing to send", "run_id", run.ID.String())
		return nil
	}

	rendered, err := e.composer.Compose(ctx, outcome, run)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "render email")
	}

	outcome, err = e.outcomes.Apply(ctx, run.ID, outcomestore.Patch{
		Delivery: &outcomestore.DeliveryPatch{
			Subject: &rendered.Subject,
			Text:    &rendered.Text,
			HTML:    &rendered.HTML,
		},
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "persist rendered email")
	}
	if _, err := e.appendEvent(ctx, run.ID, runmodels.EventEmailRendered, map[string]any{
		"subject": rendered.Subject,
	}); err != nil {
		return err
	}

	receipt, err := e.sender.Send(ctx, outcome)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "send email")
	}

	now := time.Now()
	if _, err := e.outcomes.Apply(ctx, run.ID, outcomestore.Patch{
		Delivery: &outcomestore.DeliveryPatch{SentAt: &now},
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "record sent_at")
	}
	if _, err := e.appendEvent(ctx, run.ID, runmodels.EventEmailSent, map[string]any{
		"message_id": receipt.MessageID,
	}); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "outcome email sent",
		"run_id", run.ID.String(),
		"message_id", receipt.MessageID,
	)
	return nil
}

// markFailed records a failed step on the run. Best-effort: the original
// failure is what the caller reports, not bookkeeping errors here.
func (e *Executor) markFailed(ctx context.Context, id domain.RunID, step string, cause error) {
	if _, err := e.appendEvent(ctx, id, runmodels.EventRunFailed, map[string]any{
		"step":  step,
		"error": cause.Error(),
	}); err != nil {
		e.logger.ErrorContext(ctx, "could not record run failure", "run_id", id.String(), "error", err.Error())
	}
	if _, err := e.patchStatus(ctx, id, runmodels.StatusFailed); err != nil {
		e.logger.ErrorContext(ctx, "could not mark run failed", "run_id", id.String(), "error", err.Error())
	}
}

func (e *Executor) patchStatus(ctx context.Context, id domain.RunID, status runmodels.Status) (*runmodels.Run, error) {
	run, err := e.runs.Update(ctx, id, runstore.Patch{Status: &status})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "update run status")
	}
	return run, nil
}

func (e *Executor) appendEvent(ctx context.Context, id domain.RunID, eventType runmodels.EventType, payload map[string]any) (*runmodels.Run, error) {
	run, err := e.runs.AppendEvent(ctx, id, eventType, payload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "append event")
	}
	if len(run.Events) > 0 {
		e.publisher.PublishRunEvent(ctx, id, run.Events[len(run.Events)-1])
	}
	return run, nil
}
