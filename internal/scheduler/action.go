// Package scheduler plans and executes the recurring audit workflow.
//
// Planning is a pure function over (policy snapshots, runs, outcomes);
// execution is guarded by the idempotency ledger so a tick can fire twice,
// concurrently, or again after a crash without duplicating a side effect.
package scheduler

import (
	"payrun/pkg/domain"
)

// Action kinds. The set is closed: the Action interface has an unexported
// method, so every variant lives in this package and the executor's switch
// is exhaustive.
const (
	KindRunAudit  = "RUN_AUDIT"
	KindSendEmail = "SEND_EMAIL"
)

// Action is one unit of planned work. Actions are ephemeral: recomputed
// every tick, never persisted. Their identity for deduplication is Key().
type Action interface {
	// Kind labels the variant for logging and metrics.
	Kind() string
	// Key is the deterministic idempotency key claimed before execution.
	Key() string

	isAction()
}

// RunAudit plans one audit for a (client location, pay period) pair.
type RunAudit struct {
	ClientLocationID string
	Period           domain.Period
	Policy           PolicySnapshot
}

func (RunAudit) isAction() {}

func (a RunAudit) Kind() string { return KindRunAudit }

func (a RunAudit) Key() string {
	return KindRunAudit + "|" + a.ClientLocationID + "|" + a.Period.Start + "|" + a.Period.End
}

// SendEmail plans delivery of one run's rendered outcome email.
type SendEmail struct {
	RunID domain.RunID
}

func (SendEmail) isAction() {}

func (a SendEmail) Kind() string { return KindSendEmail }

func (a SendEmail) Key() string {
	return KindSendEmail + "|" + a.RunID.String()
}
