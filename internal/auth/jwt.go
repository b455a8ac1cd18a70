// Package auth resolves bearer credentials into caller identities. How the
// token was minted is not the ledger's concern; it only needs a subject.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/richardliu001/token-ledger/internal/apperr"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
}

// IdentityProvider turns a bearer credential into an Identity. Failures
// wrap apperr.ErrUnauthorized.
type IdentityProvider interface {
	Identify(ctx context.Context, credential string) (Identity, error)
}

// JWTProvider validates HS256 tokens whose subject is the user id.
type JWTProvider struct {
	secret []byte
	issuer string
}

func NewJWTProvider(secret, issuer string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret), issuer: issuer}
}

func (p *JWTProvider) Identify(_ context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if credential == "" {
		return Identity{}, fmt.Errorf("%w: %w", apperr.ErrUnauthorized, ErrMissingToken)
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("%w: %w", apperr.ErrUnauthorized, ErrExpiredToken)
		}
		return Identity{}, fmt.Errorf("%w: %w", apperr.ErrUnauthorized, ErrInvalidToken)
	}
	if !token.Valid || claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: %w", apperr.ErrUnauthorized, ErrInvalidToken)
	}
	return Identity{UserID: claims.Subject}, nil
}

// Issue mints a token for userID. Used by tooling and tests; production
// tokens come from the identity service.
func (p *JWTProvider) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    p.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}
