package models

import (
	"fmt"
	"time"

	"payrun/pkg/domain"
)

// Action is the single capability a token grants against its run.
type Action string

const (
	ActionApprove Action = "approve"
	ActionRerun   Action = "rerun"
)

// ParseAction validates an action string. Only the two recognized values
// are accepted.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionApprove, ActionRerun:
		return Action(s), nil
	default:
		return "", fmt.Errorf("unrecognized action: %q", s)
	}
}

// Status is the lifecycle state of a token.
type Status string

const (
	StatusIssued   Status = "issued"
	StatusConsumed Status = "consumed"
)

// Token is a single-use, time-bounded capability authorizing one approve or
// rerun action against one run. It transitions issued -> consumed exactly
// once, no matter how many times it is presented.
type Token struct {
	ID        domain.TokenID `json:"id"`
	RunID     domain.RunID   `json:"run_id"`
	Action    Action         `json:"action"`
	Status    Status         `json:"status"`
	IssuedAt  time.Time      `json:"issued_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	ClickedAt *time.Time     `json:"clicked_at,omitempty"`
}

// UsableReason returns the empty string if the token can be used at the
// given instant, otherwise the rejection reason. Expiry is checked against
// wall-clock time at validation, not at issuance.
func (t *Token) UsableReason(now time.Time) string {
	if t.Status != StatusIssued {
		return "status:" + string(t.Status)
	}
	if !now.Before(t.ExpiresAt) {
		return "expired"
	}
	return ""
}

// Clone returns a copy so store internals never leak mutable state.
func (t *Token) Clone() *Token {
	out := *t
	if t.ClickedAt != nil {
		clicked := *t.ClickedAt
		out.ClickedAt = &clicked
	}
	return &out
}
