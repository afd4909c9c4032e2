package models

import (
	"time"

	"payrun/pkg/domain"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// EventType labels entries in a run's append-only event log.
type EventType string

const (
	EventRunCreated     EventType = "run_created"
	EventRunFailed      EventType = "run_failed"
	EventOutcomeSaved   EventType = "outcome_saved"
	EventApproved       EventType = "approved"
	EventApprovalNoop   EventType = "approval_noop"
	EventRerunRequested EventType = "rerun_requested"
	EventRerunCreated   EventType = "rerun_created"
	EventEmailRendered  EventType = "email_rendered"
	EventEmailSent      EventType = "email_sent"
)

// Event is one entry in a run's audit trail. The log is append-only; events
// are never truncated or reordered.
type Event struct {
	ID      string         `json:"id"`
	Type    EventType      `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// Run is one attempted execution of the payroll-audit workflow for a
// (client location, pay period) pair.
type Run struct {
	ID               domain.RunID `json:"id"`
	ClientLocationID string       `json:"client_location_id"`
	domain.Period

	Status Status `json:"status"`

	// Locked is set exactly once, by the first approval to commit. A locked
	// run is terminal for approval purposes: no further approval mutates it.
	Locked bool `json:"locked"`

	// RerunOf points back at the run this one was spawned from, if any.
	RerunOf *domain.RunID `json:"rerun_of,omitempty"`

	Events []Event `json:"events"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DedupKey is the content-based identity the planner uses to suppress
// duplicate audits: two runs for the same location and period are the same
// unit of work regardless of their ids.
func (r *Run) DedupKey() string {
	return r.ClientLocationID + "|" + r.Period.Start + "|" + r.Period.End
}

// Clone returns a deep copy so store internals never leak mutable state.
func (r *Run) Clone() *Run {
	out := *r
	out.Events = make([]Event, len(r.Events))
	copy(out.Events, r.Events)
	if r.RerunOf != nil {
		rerunOf := *r.RerunOf
		out.RerunOf = &rerunOf
	}
	return &out
}
