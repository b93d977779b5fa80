// Package token issues and validates the admin API's bearer tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"attest/internal/platform/middleware"
	id "attest/pkg/domain"
)

// Claims are the JWT claims carried by admin access tokens.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Service signs and validates HS256 tokens. It implements
// middleware.JWTValidator.
type Service struct {
	signingKey []byte
	issuer     string
}

func NewService(signingKey, issuer string) *Service {
	return &Service{signingKey: []byte(signingKey), issuer: issuer}
}

// Generate mints a token for the given user. Mainly used by tests and
// development tooling; production deployments bring their own issuer.
func (s *Service) Generate(userID id.UserID, expiresIn time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
		},
	})
	signed, err := tok.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a token, returning the middleware claims.
func (s *Service) ValidateToken(tokenString string) (*middleware.Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.New("token has expired")
		}
		return nil, errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return &middleware.Claims{UserID: claims.UserID}, nil
}
