package models

import (
	"time"

	"payrun/pkg/domain"
)

// Delivery modes. A freshly built outcome defaults to internal-only until a
// human or policy opts the client into email delivery.
const (
	DeliveryInternalOnly = "internal_only"
	DeliveryEmail        = "email"
)

// Finding is one audit rule violation surfaced for a run. Rule content is
// owned by the audit collaborator; this core only carries findings around.
type Finding struct {
	RuleID     string         `json:"rule_id"`
	EmployeeID string         `json:"employee_id,omitempty"`
	Severity   string         `json:"severity,omitempty"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
}

// ArtifactStatus reports how artifact generation went for one artifact type.
type ArtifactStatus string

const (
	ArtifactGenerated ArtifactStatus = "generated"
	ArtifactSkipped   ArtifactStatus = "skipped"
	ArtifactFailed    ArtifactStatus = "failed"
)

// Artifact is one generated attachment (CSV export, summary table) for a
// run's outcome.
type Artifact struct {
	Type    string         `json:"type"`
	Status  ArtifactStatus `json:"status"`
	Content string         `json:"content,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Delivery describes how (and whether) the outcome reaches humans.
type Delivery struct {
	Mode            string     `json:"mode"`
	Recipients      []string   `json:"recipients,omitempty"`
	Subject         string     `json:"subject,omitempty"`
	Text            string     `json:"text,omitempty"`
	HTML            string     `json:"html,omitempty"`
	ScheduledSendAt *time.Time `json:"scheduled_send_at,omitempty"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
}

// Outcome is the audit result for exactly one run: findings, artifacts,
// delivery state, and the token pair that gates human actions on it.
// It is created once and then merge-patched as rendering and sending
// progress.
type Outcome struct {
	RunID     domain.RunID   `json:"run_id"`
	Findings  []Finding      `json:"findings"`
	Artifacts []Artifact     `json:"artifacts"`
	Delivery  Delivery       `json:"delivery"`
	ApproveToken domain.TokenID `json:"approve_token"`
	RerunToken   domain.TokenID `json:"rerun_token"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Clone returns a deep copy so store internals never leak mutable state.
func (o *Outcome) Clone() *Outcome {
	out := *o
	out.Findings = append([]Finding(nil), o.Findings...)
	out.Artifacts = append([]Artifact(nil), o.Artifacts...)
	out.Delivery.Recipients = append([]string(nil), o.Delivery.Recipients...)
	if o.Delivery.ScheduledSendAt != nil {
		t := *o.Delivery.ScheduledSendAt
		out.Delivery.ScheduledSendAt = &t
	}
	if o.Delivery.SentAt != nil {
		t := *o.Delivery.SentAt
		out.Delivery.SentAt = &t
	}
	return &out
}
