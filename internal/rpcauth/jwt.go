// Package rpcauth implements the token issuance and verification the RPC
// and HTTP operator surfaces share: short-lived JWTs for authenticated
// callers, and a constant-time service-token check for service-to-service
// calls. Grounded on pkg/auth/jwt.go's Claims/GenerateToken/ValidateToken
// shape and pkg/middleware/grpc.go's GRPCAuthInterceptor.
package rpcauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL matches pkg/auth/jwt.go's 15-minute session token lifetime.
const TokenTTL = 15 * time.Minute

// ErrExpiredToken and ErrInvalidToken mirror pkg/auth/jwt.go's exported
// sentinels so callers can errors.Is-check the reason verification failed.
var (
	ErrExpiredToken = errors.New("rpcauth: token expired")
	ErrInvalidToken = errors.New("rpcauth: invalid token")
)

// Claims is the payload carried by every issued token.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer issues and validates HS256 JWTs against one shared secret.
type Issuer struct {
	secret []byte
}

// NewIssuer constructs an Issuer. secret must be non-empty; chatbroker
// refuses to start without one (see cmd/brokerd wiring).
func NewIssuer(secret []byte) *Issuer {
	return &Issuer{secret: secret}
}

// Issue mints a token for userID/role, expiring TokenTTL from now.
func (i *Issuer) Issue(userID, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("rpcauth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates tokenString, rejecting anything not signed
// with HMAC (algorithm-confusion guard, matching pkg/auth/jwt.go).
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method)
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
