package scheduler

import (
	"context"

	outcomemodels "payrun/internal/outcome/models"
	runmodels "payrun/internal/run/models"
	"payrun/pkg/domain"
)

// PolicySnapshot is externally supplied configuration describing whether and
// for which period automation should run for a client location. Rule content
// is opaque to the scheduler; it is handed through to the auditor untouched.
type PolicySnapshot struct {
	ClientLocationID string `json:"client_location_id"`
	PeriodStart      string `json:"period_start"`
	PeriodEnd        string `json:"period_end"`

	// AutomationEnabled gates planning. Nil means enabled: only an explicit
	// false opts a location out.
	AutomationEnabled *bool `json:"automation_enabled,omitempty"`

	Rules map[string]any `json:"rules,omitempty"`
}

// Enabled reports whether this snapshot should be planned at all.
func (p PolicySnapshot) Enabled() bool {
	return p.AutomationEnabled == nil || *p.AutomationEnabled
}

// Complete reports whether the snapshot carries every field planning needs.
func (p PolicySnapshot) Complete() bool {
	return p.ClientLocationID != "" && p.PeriodStart != "" && p.PeriodEnd != ""
}

// Period returns the snapshot's pay period in domain form.
func (p PolicySnapshot) Period() domain.Period {
	return domain.Period{Start: p.PeriodStart, End: p.PeriodEnd}
}

// PolicySource supplies the current set of policy snapshots. An error here
// aborts the whole tick: planning without policies would silently plan
// nothing.
type PolicySource interface {
	Snapshots(ctx context.Context) ([]PolicySnapshot, error)
}

// Auditor evaluates a run's payroll data against the policy and returns
// findings. The rule engine and data fetching behind it are out of scope
// for the scheduler.
type Auditor interface {
	Audit(ctx context.Context, policy PolicySnapshot, run *runmodels.Run) ([]outcomemodels.Finding, error)
}

// ArtifactBuilder generates one artifact (CSV export, summary table) per
// kind it advertises. Builders for independent kinds run concurrently; a
// failed kind becomes a failed artifact, never a failed run.
type ArtifactBuilder interface {
	Kinds() []string
	Build(ctx context.Context, kind string, run *runmodels.Run, findings []outcomemodels.Finding) (outcomemodels.Artifact, error)
}

// RenderedEmail is the composer's output, persisted onto the outcome before
// any send is attempted so a send retry never re-renders.
type RenderedEmail struct {
	Subject string
	Text    string
	HTML    string
}

// EmailComposer renders the outcome email body.
type EmailComposer interface {
	Compose(ctx context.Context, outcome *outcomemodels.Outcome, run *runmodels.Run) (RenderedEmail, error)
}

// SendReceipt is the provider's acknowledgment of a sent email.
type SendReceipt struct {
	MessageID string
}

// EmailSender delivers a rendered outcome email to its recipients.
type EmailSender interface {
	Send(ctx context.Context, outcome *outcomemodels.Outcome) (SendReceipt, error)
}
