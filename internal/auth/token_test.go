// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests valid tokens, roles, invalid tokens, and expired tokens

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret-key-for-jwt-signing!")

func newTestVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	return v
}

func TestNewJWTVerifier_WeakSecret(t *testing.T) {
	if _, err := NewJWTVerifier([]byte("short")); !errors.Is(err, ErrWeakSecret) {
		t.Errorf("NewJWTVerifier() error = %v, want ErrWeakSecret", err)
	}
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.Generate("ops@bitsacco", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "ops@bitsacco" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "ops@bitsacco")
	}
	if claims.Role != RoleAdmin {
		t.Errorf("Role = %q, want %q", claims.Role, RoleAdmin)
	}
	if claims.ExpiresAt.IsZero() {
		t.Error("ExpiresAt not set")
	}
}

func TestJWTVerifier_MissingRoleIsViewer(t *testing.T) {
	verifier := newTestVerifier(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "support",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	claims, err := verifier.Verify(signed)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Role != RoleViewer {
		t.Errorf("Role = %q, want viewer", claims.Role)
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := newTestVerifier(t)

	sign := func(secret []byte, claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		if err != nil {
			t.Fatalf("SignedString() error = %v", err)
		}
		return s
	}
	exp := time.Now().Add(time.Hour).Unix()
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x", "exp": exp}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "empty token", token: "", wantErr: ErrInvalidToken},
		{name: "garbage token", token: "not-a-jwt-token", wantErr: ErrInvalidToken},
		{name: "malformed JWT", token: "header.payload.signature", wantErr: ErrInvalidToken},
		{
			name:    "wrong secret",
			token:   sign([]byte("a-completely-different-secret-32b"), jwt.MapClaims{"sub": "x", "exp": exp}),
			wantErr: ErrInvalidToken,
		},
		{name: "missing sub", token: sign(testSecret, jwt.MapClaims{"exp": exp}), wantErr: ErrMissingClaim},
		{
			name:    "unknown role",
			token:   sign(testSecret, jwt.MapClaims{"sub": "x", "role": "owner", "exp": exp}),
			wantErr: ErrInvalidToken,
		},
		{name: "none algorithm", token: unsigned, wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.Generate("ops", RoleViewer, -time.Minute)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if _, err := verifier.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_GenerateRejectsUnknownRole(t *testing.T) {
	verifier := newTestVerifier(t)
	if _, err := verifier.Generate("ops", Role("root"), time.Hour); err == nil {
		t.Error("Generate() expected error for unknown role")
	}
}

func TestRole_Allows(t *testing.T) {
	if !RoleAdmin.Allows(RoleViewer) {
		t.Error("admin should allow viewer endpoints")
	}
	if RoleViewer.Allows(RoleAdmin) {
		t.Error("viewer should not allow admin endpoints")
	}
	if !RoleViewer.Allows(RoleViewer) {
		t.Error("viewer should allow viewer endpoints")
	}
}
