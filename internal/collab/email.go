package collab

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"

	"payrun/internal/notify"
	outcomemodels "payrun/internal/outcome/models"
	runmodels "payrun/internal/run/models"
	"payrun/internal/scheduler"
	"payrun/pkg/domain"
	dErrors "payrun/pkg/domain-errors"
)

var emailHTML = template.Must(template.New("outcome").Parse(`<h2>Payroll audit: {{.Location}}</h2>
<p>Pay period {{.PeriodStart}} to {{.PeriodEnd}}.</p>
{{if .Findings}}<ul>
{{range .Findings}}<li><strong>{{.RuleID}}</strong>: {{.Message}}</li>
{{end}}</ul>{{else}}<p>No findings.</p>{{end}}`))

// TemplateComposer renders the outcome email from the run's findings.
type TemplateComposer struct{}

// NewTemplateComposer constructs the default composer.
func NewTemplateComposer() *TemplateComposer {
	return &TemplateComposer{}
}

func (c *TemplateComposer) Compose(_ context.Context, outcome *outcomemodels.Outcome, run *runmodels.Run) (scheduler.RenderedEmail, error) {
	subject := fmt.Sprintf("Payroll audit %s %s to %s", run.ClientLocationID, run.Period.Start, run.Period.End)

	var text bytes.Buffer
	fmt.Fprintf(&text, "Payroll audit for %s, pay period %s to %s.\n", run.ClientLocationID, run.Period.Start, run.Period.End)
	if len(outcome.Findings) == 0 {
		text.WriteString("No findings.\n")
	} else {
		fmt.Fprintf(&text, "%d finding(s):\n", len(outcome.Findings))
		for _, finding := range outcome.Findings {
			fmt.Fprintf(&text, "- %s: %s\n", finding.RuleID, finding.Message)
		}
	}

	var html bytes.Buffer
	if err := emailHTML.Execute(&html, map[string]any{
		"Location":    run.ClientLocationID,
		"PeriodStart": run.Period.Start,
		"PeriodEnd":   run.Period.End,
		"Findings":    outcome.Findings,
	}); err != nil {
		return scheduler.RenderedEmail{}, dErrors.Wrap(err, dErrors.CodeInternal, "render email html")
	}

	return scheduler.RenderedEmail{
		Subject: subject,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

// LogSender is the development email sender: it logs the delivery and
// fabricates a message id. The production sender talks to the mail provider
// and is wired in at startup.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender constructs a log-backed sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, outcome *outcomemodels.Outcome) (scheduler.SendReceipt, error) {
	messageID := "local-" + domain.NewTokenID().String()
	s.logger.InfoContext(ctx, "outcome email (log sender)",
		"run_id", outcome.RunID.String(),
		"subject", outcome.Delivery.Subject,
		"recipients", len(outcome.Delivery.Recipients),
		"message_id", messageID,
	)
	return scheduler.SendReceipt{MessageID: messageID}, nil
}

// LogMailer is the development rerun-notice mailer.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer constructs a log-backed mailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendRerunNotice(ctx context.Context, notice notify.RerunNotice) error {
	m.logger.InfoContext(ctx, "rerun notice (log mailer)",
		"source_run_id", notice.SourceRunID.String(),
		"run_id", notice.Run.ID.String(),
		"recipients", len(notice.Recipients),
	)
	return nil
}

var (
	_ scheduler.EmailComposer = (*TemplateComposer)(nil)
	_ scheduler.EmailSender   = (*LogSender)(nil)
	_ notify.Mailer           = (*LogMailer)(nil)
)
