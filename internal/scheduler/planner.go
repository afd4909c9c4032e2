package scheduler

import (
	"sort"
	"time"

	outcomemodels "payrun/internal/outcome/models"
	runmodels "payrun/internal/run/models"
)

// PlanRuns emits a RunAudit action for every enabled, complete policy
// snapshot whose (location, period) key has no existing run. The check is
// content-based, not id-based: a rerun for the same period carries the same
// key and therefore suppresses fresh planning for it.
//
// Planning is pure and deterministic: the same inputs always produce the
// same action list, in the same order.
func PlanRuns(snapshots []PolicySnapshot, existing []*runmodels.Run) []Action {
	seen := make(map[string]struct{}, len(existing))
	for _, run := range existing {
		seen[run.DedupKey()] = struct{}{}
	}

	ordered := append([]PolicySnapshot(nil), snapshots...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return dedupKey(ordered[i]) < dedupKey(ordered[j])
	})

	var actions []Action
	for _, snapshot := range ordered {
		if !snapshot.Enabled() || !snapshot.Complete() {
			continue
		}
		key := dedupKey(snapshot)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		actions = append(actions, RunAudit{
			ClientLocationID: snapshot.ClientLocationID,
			Period:           snapshot.Period(),
			Policy:           snapshot,
		})
	}
	return actions
}

// PlanEmails emits a SendEmail action for every outcome that is due: email
// delivery mode, not yet sent, and a scheduled send time at or before now.
func PlanEmails(outcomes []*outcomemodels.Outcome, now time.Time) []Action {
	ordered := append([]*outcomemodels.Outcome(nil), outcomes...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].RunID < ordered[j].RunID
	})

	var actions []Action
	for _, outcome := range ordered {
		d := outcome.Delivery
		if d.Mode != outcomemodels.DeliveryEmail {
			continue
		}
		if d.SentAt != nil || d.ScheduledSendAt == nil {
			continue
		}
		if now.Before(*d.ScheduledSendAt) {
			continue
		}
		actions = append(actions, SendEmail{RunID: outcome.RunID})
	}
	return actions
}

// PlanAll concatenates the two plans, audits first. Order is stable so a
// re-invocation after a crash walks the same list.
func PlanAll(snapshots []PolicySnapshot, runs []*runmodels.Run, outcomes []*outcomemodels.Outcome, now time.Time) []Action {
	actions := PlanRuns(snapshots, runs)
	return append(actions, PlanEmails(outcomes, now)...)
}

func dedupKey(p PolicySnapshot) string {
	return p.ClientLocationID + "|" + p.PeriodStart + "|" + p.PeriodEnd
}
