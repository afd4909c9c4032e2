// Package service implements issuance, validation, and consumption of
// approval tokens.
//
// Validation and consumption are deliberately split: a caller can reject an
// invalid token with a precise reason before burning it, but must still burn
// it afterward so a rejected token cannot be used for replay probing. The
// approval state machine consumes on every terminal path, success or not.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"payrun/internal/platform/metrics"
	"payrun/internal/token/models"
	"payrun/internal/token/store"
	"payrun/pkg/domain"
	dErrors "payrun/pkg/domain-errors"
	"payrun/pkg/platform/sentinel"
)

// DefaultTTL bounds a token's life when the caller does not specify one.
const DefaultTTL = 60 * time.Minute

// Validation is the outcome of presenting a token. Reason is one of
// "missing", "status:<status>", "expired", or empty when valid.
type Validation struct {
	Valid  bool
	Reason string
	Token  *models.Token
}

// Service issues, validates, and consumes tokens.
type Service struct {
	store   store.Store
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New constructs a token service. ttl <= 0 selects DefaultTTL.
func New(st store.Store, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) (*Service, error) {
	if st == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "token store is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: st, ttl: ttl, metrics: m, logger: logger}, nil
}

// Issue mints a single-use token binding one action to one run.
func (s *Service) Issue(ctx context.Context, action string, runID domain.RunID, ttl time.Duration) (*models.Token, error) {
	if action == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "action is required")
	}
	parsed, err := models.ParseAction(action)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid action")
	}
	if runID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "run id is required")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := time.Now()
	token := &models.Token{
		ID:        domain.NewTokenID(),
		RunID:     runID,
		Action:    parsed,
		Status:    models.StatusIssued,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.store.Create(ctx, token); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store token")
	}

	if s.metrics != nil {
		s.metrics.TokensIssued.WithLabelValues(string(parsed)).Inc()
	}
	return token, nil
}

// Validate fails closed and never mutates the token. Missing tokens,
// already-consumed tokens, and expired tokens each get a distinct reason.
func (s *Service) Validate(ctx context.Context, id domain.TokenID, now time.Time) (Validation, error) {
	token, err := s.store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Validation{Valid: false, Reason: "missing"}, nil
		}
		return Validation{}, dErrors.Wrap(err, dErrors.CodeInternal, "fetch token")
	}

	if reason := token.UsableReason(now); reason != "" {
		return Validation{Valid: false, Reason: reason, Token: token}, nil
	}
	return Validation{Valid: true, Token: token}, nil
}

// Consume burns the token. Callers must consume exactly once per validated
// presentation; the store enforces the single transition defensively.
func (s *Service) Consume(ctx context.Context, id domain.TokenID, now time.Time) (*models.Token, error) {
	token, err := s.store.Consume(ctx, id, now)
	if err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			s.logger.WarnContext(ctx, "token consumed twice", "token_id", id.String())
			return token, dErrors.Wrap(err, dErrors.CodeConflict, "token already consumed")
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "token not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "consume token")
	}
	if s.metrics != nil {
		s.metrics.TokensConsumed.Inc()
	}
	return token, nil
}
