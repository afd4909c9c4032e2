package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into coded domain errors.
//
// These represent factual states about stored entities, not validation
// failures:
// - ErrNotFound: run/token/outcome/claim does not exist in the store
// - ErrConflict: a uniqueness constraint was hit (outcome already built for a run)
// - ErrExpired: token presented past its expires_at
// - ErrAlreadyUsed: token already consumed
// - ErrInvalidState: entity in wrong state for the requested transition
// - ErrUnavailable: backing store temporarily unreachable
//
// For input validation, use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
