package scheduler

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"payrun/internal/notify"
	outcomeservice "payrun/internal/outcome/service"
	"payrun/internal/platform/metrics"
	runstore "payrun/internal/run/store"
	dErrors "payrun/pkg/domain-errors"
)

// TickResult summarizes one scheduler tick for operators and tests.
type TickResult struct {
	OK       bool `json:"ok"`
	Planned  int  `json:"planned"`
	Executed int  `json:"executed"`
	Skipped  int  `json:"skipped"`
	Failed   int  `json:"failed"`
}

// Service drives the plan/execute cycle.
type Service struct {
	policies PolicySource
	runs     runstore.Store
	outcomes *outcomeservice.Service
	executor *Executor
	reporter *notify.Reporter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New constructs the scheduler service.
func New(
	policies PolicySource,
	runs runstore.Store,
	outcomes *outcomeservice.Service,
	executor *Executor,
	reporter *notify.Reporter,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*Service, error) {
	if policies == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "policy source is required")
	}
	if runs == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "run store is required")
	}
	if outcomes == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "outcome service is required")
	}
	if executor == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "executor is required")
	}
	if reporter == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "failure reporter is required")
	}
	return &Service{
		policies: policies,
		runs:     runs,
		outcomes: outcomes,
		executor: executor,
		reporter: reporter,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("payrun/scheduler"),
	}, nil
}

// Tick plans the current action set and executes it to completion. A
// planning failure aborts the whole tick and is reported once; a failure in
// one action is reported and does not stop its siblings. Overlapping ticks
// are safe: the ledger lets exactly one claimant execute each action.
func (s *Service) Tick(ctx context.Context) (TickResult, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.Tick")
	defer span.End()

	start := time.Now()
	if s.metrics != nil {
		s.metrics.TicksTotal.Inc()
		defer func() {
			s.metrics.TickDuration.Observe(time.Since(start).Seconds())
		}()
	}

	actions, err := s.plan(ctx, start)
	if err != nil {
		s.reporter.Report(ctx, "plan_tick", err, 0, nil)
		return TickResult{OK: false}, err
	}

	result := TickResult{OK: true, Planned: len(actions)}
	for _, action := range actions {
		skipped, execErr := s.executor.Execute(ctx, action)
		switch {
		case execErr != nil:
			result.Failed++
			s.reporter.Report(ctx, "execute_action", execErr, 0, map[string]any{
				"kind": action.Kind(),
				"key":  action.Key(),
			})
		case skipped:
			result.Skipped++
		default:
			result.Executed++
		}
	}

	span.SetAttributes(
		attribute.Int("planned", result.Planned),
		attribute.Int("executed", result.Executed),
		attribute.Int("skipped", result.Skipped),
		attribute.Int("failed", result.Failed),
	)
	s.logger.InfoContext(ctx, "scheduler tick finished",
		"planned", result.Planned,
		"executed", result.Executed,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"duration", time.Since(start).String(),
	)
	return result, nil
}

// Run ticks on a fixed interval until the context is canceled. The worker
// entrypoint uses this when no task queue is configured.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.ErrorContext(ctx, "tick aborted", "error", err.Error())
			}
		}
	}
}

func (s *Service) plan(ctx context.Context, now time.Time) ([]Action, error) {
	snapshots, err := s.policies.Snapshots(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "fetch policy snapshots")
	}
	runs, err := s.runs.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list runs")
	}
	outcomes, err := s.outcomes.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list outcomes")
	}
	return PlanAll(snapshots, runs, outcomes, now), nil
}
