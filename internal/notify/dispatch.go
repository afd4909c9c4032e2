package notify

import (
	"context"
	"log/slog"
	"time"

	runmodels "payrun/internal/run/models"
	"payrun/pkg/domain"
)

// RerunNotice tells the configured recipients that a rerun was requested
// and gives them the fresh approval links for the new run.
type RerunNotice struct {
	SourceRunID    domain.RunID
	Run            *runmodels.Run
	ApproveTokenID domain.TokenID
	RerunTokenID   domain.TokenID
	Recipients     []string
}

// Mailer delivers rerun notices. The production implementation formats and
// sends email; the core treats it as opaque.
type Mailer interface {
	SendRerunNotice(ctx context.Context, notice RerunNotice) error
}

// Dispatcher submits rerun notices off the critical path. A rerun must
// succeed even when the mail provider is down, so delivery runs in its own
// goroutine with a bounded deadline and a completion path restricted to
// reporting.
type Dispatcher struct {
	mailer   Mailer
	reporter *Reporter
	logger   *slog.Logger
	timeout  time.Duration
}

// NewDispatcher constructs a dispatcher. A nil mailer disables dispatch.
func NewDispatcher(mailer Mailer, reporter *Reporter, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		mailer:   mailer,
		reporter: reporter,
		logger:   logger,
		timeout:  30 * time.Second,
	}
}

// Dispatch fires the notice and returns immediately. Failures are reported
// through the failure channel, never to the caller.
func (d *Dispatcher) Dispatch(notice RerunNotice) {
	if d.mailer == nil || len(notice.Recipients) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.mailer.SendRerunNotice(ctx, notice); err != nil {
			d.reporter.Report(ctx, "rerun_notification", err, notice.Run.ID, map[string]any{
				"source_run_id": notice.SourceRunID.String(),
				"recipients":    len(notice.Recipients),
			})
			return
		}
		d.logger.Info("rerun notice delivered",
			"run_id", notice.Run.ID.String(),
			"recipients", len(notice.Recipients),
		)
	}()
}
