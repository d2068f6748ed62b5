package rpcauth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	issuer := NewIssuer([]byte("secret"))
	token, err := issuer.Issue("user-1", "operator")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != "operator" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issuer := NewIssuer([]byte("secret"))
	now := time.Now().Add(-2 * TokenTTL)
	claims := Claims{
		UserID: "user-1",
		Role:   "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign expired token: %v", err)
	}
	if _, err := issuer.Verify(signed); err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewIssuer([]byte("secret"))
	token, err := issuer.Issue("user-1", "operator")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	other := NewIssuer([]byte("different"))
	if _, err := other.Verify(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsNonHMACAlgorithm(t *testing.T) {
	issuer := NewIssuer([]byte("secret"))
	claims := Claims{UserID: "user-1"}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none-alg token: %v", err)
	}
	if _, err := issuer.Verify(signed); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for none-alg token, got %v", err)
	}
}
