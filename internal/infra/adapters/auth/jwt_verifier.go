package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/deepmindneural/escuchodromo-sub002/internal/domain"
	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.CredentialVerifier = (*JWTVerifier)(nil)

type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HMAC-signed session tokens minted by the account
// service. Only consumed at join time; a bad token rejects the join, never
// the connection.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(ctx context.Context, credential string) (adapter.Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return adapter.Identity{}, domain.ErrInvalidCredential
	}

	var claims sessionClaims
	token, err := jwt.ParseWithClaims(credential, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return adapter.Identity{}, fmt.Errorf("%w: %v", domain.ErrInvalidCredential, err)
	}
	if claims.Subject == "" {
		return adapter.Identity{}, domain.ErrInvalidCredential
	}
	return adapter.Identity{UserID: claims.Subject, Role: claims.Role}, nil
}
