// Package worker runs the recurring scheduler tick as an asynq periodic
// task. Asynq delivers at-least-once; that is safe here because every action
// a tick executes is guarded by the idempotency ledger, so a duplicate or
// overlapping tick performs no duplicate side effect.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"payrun/internal/scheduler"
	dErrors "payrun/pkg/domain-errors"
)

// TaskSchedulerTick is the registered task type for one tick.
const TaskSchedulerTick = "scheduler:tick"

// Worker owns the asynq server and the periodic registration.
type Worker struct {
	redisOpt  asynq.RedisClientOpt
	scheduler *scheduler.Service
	interval  time.Duration
	logger    *slog.Logger

	server   *asynq.Server
	periodic *asynq.Scheduler
}

// New constructs a worker. interval <= 0 selects 5 minutes.
func New(redisOpt asynq.RedisClientOpt, sched *scheduler.Service, interval time.Duration, logger *slog.Logger) (*Worker, error) {
	if sched == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "scheduler service is required")
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Worker{
		redisOpt:  redisOpt,
		scheduler: sched,
		interval:  interval,
		logger:    logger,
	}, nil
}

// Run starts the task server and the periodic enqueuer and blocks until the
// context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.server = asynq.NewServer(w.redisOpt, asynq.Config{
		// Ticks are cheap to plan and ledger-guarded to execute; one at a
		// time keeps the logs readable.
		Concurrency: 1,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskSchedulerTick, w.handleTick)

	w.periodic = asynq.NewScheduler(w.redisOpt, &asynq.SchedulerOpts{})
	if _, err := w.periodic.Register(
		fmt.Sprintf("@every %s", w.interval),
		asynq.NewTask(TaskSchedulerTick, nil),
	); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "register periodic tick")
	}

	errs := make(chan error, 2)
	go func() {
		if err := w.server.Run(mux); err != nil {
			errs <- fmt.Errorf("task server: %w", err)
		}
	}()
	go func() {
		if err := w.periodic.Run(); err != nil {
			errs <- fmt.Errorf("periodic scheduler: %w", err)
		}
	}()

	w.logger.Info("worker started", "interval", w.interval.String())

	select {
	case <-ctx.Done():
		w.periodic.Shutdown()
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errs:
		w.periodic.Shutdown()
		w.server.Shutdown()
		return err
	}
}

func (w *Worker) handleTick(ctx context.Context, _ *asynq.Task) error {
	result, err := w.scheduler.Tick(ctx)
	if err != nil {
		// Returning the error makes asynq retry; a retried tick is safe and
		// the policy source may have recovered by then.
		return err
	}
	w.logger.InfoContext(ctx, "periodic tick done",
		"planned", result.Planned,
		"executed", result.Executed,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return nil
}
