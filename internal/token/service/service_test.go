package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"payrun/internal/platform/logger"
	"payrun/internal/platform/metrics"
	"payrun/internal/token/models"
	"payrun/internal/token/store"
	"payrun/pkg/domain"
	dErrors "payrun/pkg/domain-errors"
)

type TokenServiceSuite struct {
	suite.Suite
	store   *store.InMemoryStore
	service *Service
}

func TestTokenServiceSuite(t *testing.T) {
	suite.Run(t, new(TokenServiceSuite))
}

func (s *TokenServiceSuite) SetupTest() {
	s.store = store.NewInMemoryStore()

	var err error
	s.service, err = New(s.store, 0, metrics.NewForTest(), logger.New())
	s.Require().NoError(err)
}

func (s *TokenServiceSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil, 0, nil, logger.New())
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func (s *TokenServiceSuite) TestIssue() {
	ctx := context.Background()

	s.Run("missing action is rejected", func() {
		_, err := s.service.Issue(ctx, "", domain.RunID(1), 0)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unrecognized action is rejected", func() {
		_, err := s.service.Issue(ctx, "delete", domain.RunID(1), 0)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("missing run id is rejected", func() {
		_, err := s.service.Issue(ctx, "approve", domain.RunID(0), 0)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("default ttl is sixty minutes", func() {
		token, err := s.service.Issue(ctx, "approve", domain.RunID(1), 0)
		s.Require().NoError(err)
		s.Equal(models.ActionApprove, token.Action)
		s.Equal(models.StatusIssued, token.Status)
		s.NotEmpty(token.ID)
		s.WithinDuration(token.IssuedAt.Add(DefaultTTL), token.ExpiresAt, time.Second)
	})

	s.Run("explicit ttl wins", func() {
		token, err := s.service.Issue(ctx, "rerun", domain.RunID(2), 5*time.Minute)
		s.Require().NoError(err)
		s.WithinDuration(token.IssuedAt.Add(5*time.Minute), token.ExpiresAt, time.Second)
	})
}

func (s *TokenServiceSuite) TestValidate() {
	ctx := context.Background()

	s.Run("missing token fails closed", func() {
		v, err := s.service.Validate(ctx, domain.TokenID("no-such-token"), time.Now())
		s.Require().NoError(err)
		s.False(v.Valid)
		s.Equal("missing", v.Reason)
	})

	s.Run("valid before expiry, expired after", func() {
		token, err := s.service.Issue(ctx, "approve", domain.RunID(1), time.Minute)
		s.Require().NoError(err)

		v, err := s.service.Validate(ctx, token.ID, token.IssuedAt.Add(time.Second))
		s.Require().NoError(err)
		s.True(v.Valid)
		s.Empty(v.Reason)

		v, err = s.service.Validate(ctx, token.ID, token.ExpiresAt)
		s.Require().NoError(err)
		s.False(v.Valid)
		s.Equal("expired", v.Reason)
	})

	s.Run("consumed token reports its status", func() {
		token, err := s.service.Issue(ctx, "approve", domain.RunID(1), time.Minute)
		s.Require().NoError(err)

		_, err = s.service.Consume(ctx, token.ID, time.Now())
		s.Require().NoError(err)

		v, err := s.service.Validate(ctx, token.ID, time.Now())
		s.Require().NoError(err)
		s.False(v.Valid)
		s.Equal("status:consumed", v.Reason)
	})

	s.Run("validation does not mutate the token", func() {
		token, err := s.service.Issue(ctx, "approve", domain.RunID(1), time.Minute)
		s.Require().NoError(err)

		for range 3 {
			_, err = s.service.Validate(ctx, token.ID, time.Now())
			s.Require().NoError(err)
		}

		stored, err := s.store.Find(ctx, token.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusIssued, stored.Status)
		s.Nil(stored.ClickedAt)
	})
}

func (s *TokenServiceSuite) TestConsume() {
	ctx := context.Background()

	s.Run("records clicked_at and flips status once", func() {
		token, err := s.service.Issue(ctx, "approve", domain.RunID(1), time.Minute)
		s.Require().NoError(err)

		now := time.Now()
		consumed, err := s.service.Consume(ctx, token.ID, now)
		s.Require().NoError(err)
		s.Equal(models.StatusConsumed, consumed.Status)
		s.Require().NotNil(consumed.ClickedAt)
		s.WithinDuration(now, *consumed.ClickedAt, time.Second)

		_, err = s.service.Consume(ctx, token.ID, time.Now())
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unknown token", func() {
		_, err := s.service.Consume(ctx, domain.TokenID("ghost"), time.Now())
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
