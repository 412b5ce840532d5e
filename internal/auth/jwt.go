// Package auth verifies access tokens issued by the auth-service and resolves their owners
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	"github.com/golang-jwt/jwt/v5"
)

// accessClaims - payload of the auth-service access token: user id lives in "id", "sub" is a fallback
type accessClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"id,omitempty"`
}

type JWTVerifier struct {
	secret []byte
	leeway time.Duration
}

func NewJWTVerifier(secret string, leeway time.Duration) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), leeway: leeway}
}

// Verify checks signature and expiry and returns the id of the token owner
func (v *JWTVerifier) Verify(_ context.Context, token string) (string, error) {
	claims := &accessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return "", model.ErrUnauthorized
	}

	userID := claims.UserID
	if userID == "" {
		userID, _ = claims.GetSubject()
	}
	if userID == "" {
		return "", fmt.Errorf("%w: token has no user id", model.ErrUnauthorized)
	}
	return userID, nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("%w: missing authorization header", model.ErrUnauthorized)
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("%w: expected Bearer <token>", model.ErrUnauthorized)
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", fmt.Errorf("%w: empty bearer token", model.ErrUnauthorized)
	}
	return token, nil
}
