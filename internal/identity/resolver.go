// Package identity turns an opaque credential into a verified user id.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"coachconnect-chat/internal/apperr"
)

// Resolver extracts the caller's user id from a credential. Implementations
// must not cache results across handshakes.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (string, error)
}

// JWTResolver verifies HS256 tokens whose subject is the user id.
type JWTResolver struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTResolver(secret, issuer string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Resolve accepts a raw token or a "Bearer <token>" header value.
func (r *JWTResolver) Resolve(_ context.Context, credential string) (string, error) {
	raw := TokenFromHeader(credential)
	if raw == "" {
		return "", apperr.Unauthenticated("identity.resolve", errors.New("missing credential"))
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", apperr.Unauthenticated("identity.resolve", err)
	}
	if claims.Subject == "" {
		return "", apperr.Unauthenticated("identity.resolve", errors.New("token has no subject"))
	}
	return claims.Subject, nil
}

// Sign issues a token for userID valid for ttl.
func (r *JWTResolver) Sign(userID string, ttl time.Duration) (string, error) {
	now := r.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    r.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// TokenFromHeader strips an optional bearer scheme.
func TokenFromHeader(header string) string {
	header = strings.TrimSpace(header)
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 {
		if !strings.EqualFold(parts[0], "bearer") {
			return ""
		}
		return strings.TrimSpace(parts[1])
	}
	return header
}
