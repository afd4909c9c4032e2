// Package notify is the single channel operational alerts flow through.
// Nothing here is allowed to propagate an error back into the approval or
// scheduling path: notification is best-effort by contract.
package notify

import (
	"context"
	"log/slog"

	"payrun/internal/platform/metrics"
	"payrun/pkg/domain"
)

// Failure is the payload delivered to the failure-notification sink.
type Failure struct {
	Step    string         `json:"step"`
	Error   string         `json:"error"`
	RunID   domain.RunID   `json:"run_id,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// Sink delivers a failure notification somewhere an operator will see it.
// Implementations live at the edge (email, chat webhook); the core ships a
// log-backed default.
type Sink interface {
	Notify(ctx context.Context, failure Failure) error
}

// LogSink writes failures to the structured log. It is the fallback sink
// and the development default.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink constructs a log-backed sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(ctx context.Context, failure Failure) error {
	s.logger.ErrorContext(ctx, "operational failure",
		"step", failure.Step,
		"error", failure.Error,
		"run_id", failure.RunID.String(),
	)
	return nil
}

// Reporter wraps a sink with the swallow-and-count discipline every caller
// needs: sink errors are logged, counted, and never propagated. Repeated
// sink failures open a circuit breaker; while open, notifications are
// dropped and counted rather than attempted.
type Reporter struct {
	sink    Sink
	breaker *CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewReporter constructs a reporter around the given sink.
func NewReporter(sink Sink, m *metrics.Metrics, logger *slog.Logger) *Reporter {
	return &Reporter{
		sink:    sink,
		breaker: NewCircuitBreaker(0, 0),
		metrics: m,
		logger:  logger,
	}
}

// Report delivers a failure notification. It never returns an error and
// never panics past its own frame.
func (r *Reporter) Report(ctx context.Context, step string, err error, runID domain.RunID, extra map[string]any) {
	failure := Failure{
		Step:    step,
		RunID:   runID,
		Context: extra,
	}
	if err != nil {
		failure.Error = err.Error()
	}

	if r.metrics != nil {
		r.metrics.FailureNotices.Inc()
	}

	if !r.breaker.Allow() {
		if r.metrics != nil {
			r.metrics.NotifierDropped.Inc()
		}
		r.logger.WarnContext(ctx, "failure notification dropped, notifier circuit open",
			"step", step,
			"run_id", runID.String(),
		)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "notifier panicked", "step", step, "panic", rec)
			r.breaker.Failure()
		}
	}()

	if notifyErr := r.sink.Notify(ctx, failure); notifyErr != nil {
		r.breaker.Failure()
		r.logger.ErrorContext(ctx, "failure notification could not be delivered",
			"step", step,
			"run_id", runID.String(),
			"error", notifyErr.Error(),
		)
		return
	}
	r.breaker.Success()
}
