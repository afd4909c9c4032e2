// Package ledger provides atomic "claim once" semantics over (scope, key)
// pairs. Every at-most-once guarantee in the system bottoms out here: the
// scheduler claims a key before executing an action, and external task
// filing claims a key before creating downstream work.
package ledger

import "context"

// Scope names used by this repository. Callers of the HTTP check endpoint
// may introduce their own scopes; within a scope a key is claimed at most
// once for the lifetime of the store.
const (
	ScopeSchedulerAction = "scheduler_action"
)

// Store records which (scope, key) pairs have been acted upon. Claims are
// permanent; duplicate suppression is global, not time-windowed.
type Store interface {
	// RecordIfAbsent durably marks the pair claimed and returns true if
	// this is the first claim, false otherwise. The check-and-set is a
	// single indivisible operation: two concurrent claims on the same pair
	// yield exactly one true.
	RecordIfAbsent(ctx context.Context, scope, key string) (bool, error)

	// HasRecorded reports whether the pair has been claimed, without
	// claiming it.
	HasRecorded(ctx context.Context, scope, key string) (bool, error)
}
