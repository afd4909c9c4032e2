// Package jwtauth issues and validates the HS256 bearer tokens that guard
// the operator surface. Approval tokens are a separate concept: they are
// opaque single-use capabilities, not JWTs (see internal/token).
package jwtauth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"payrun/internal/platform/middleware"
	dErrors "payrun/pkg/domain-errors"
)

const issuer = "payrun"

// Service handles operator JWT creation and validation.
type Service struct {
	signingKey []byte
}

func New(signingKey string) *Service {
	return &Service{signingKey: []byte(signingKey)}
}

// GenerateToken mints an operator token for CLI and automation use.
func (s *Service) GenerateToken(subject string, expiresIn time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		Issuer:    issuer,
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "sign operator token")
	}
	return signed, nil
}

// ValidateToken implements middleware.JWTValidator.
func (s *Service) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid operator token")
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid operator token")
	}
	return &middleware.JWTClaims{Subject: claims.Subject}, nil
}
