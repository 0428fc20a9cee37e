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

func TestNewJWTVerifier_RejectsShortSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"))
	if !errors.Is(err, ErrWeakSecret) {
		t.Errorf("NewJWTVerifier() error = %v, want ErrWeakSecret", err)
	}
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)

	for _, role := range []string{RoleAdmin, RoleViewer} {
		token, err := verifier.Generate("ops", role, time.Hour)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if claims.Subject != "ops" {
			t.Errorf("Subject = %q, want %q", claims.Subject, "ops")
		}
		if claims.Role != role {
			t.Errorf("Role = %q, want %q", claims.Role, role)
		}
	}
}

func TestJWTVerifier_MissingRoleIsViewer(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "legacy",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Role != RoleViewer {
		t.Errorf("Role = %q, want %q", claims.Role, RoleViewer)
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := newTestVerifier(t)

	sign := func(claims jwt.MapClaims, secret []byte) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		if err != nil {
			t.Fatalf("SignedString() error = %v", err)
		}
		return token
	}
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty token", token: "", want: ErrInvalidToken},
		{name: "garbage token", token: "not-a-jwt-token", want: ErrInvalidToken},
		{name: "malformed JWT", token: "header.payload.signature", want: ErrInvalidToken},
		{
			name:  "wrong secret",
			token: sign(jwt.MapClaims{"sub": "ops", "exp": exp}, []byte("a-completely-different-secret-32!")),
			want:  ErrInvalidToken,
		},
		{
			name:  "missing subject",
			token: sign(jwt.MapClaims{"role": RoleAdmin, "exp": exp}, testSecret),
			want:  ErrMissingClaim,
		},
		{
			name:  "unknown role",
			token: sign(jwt.MapClaims{"sub": "ops", "role": "root", "exp": exp}, testSecret),
			want:  ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.Generate("ops", RoleAdmin, -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_GenerateRejectsUnknownRole(t *testing.T) {
	verifier := newTestVerifier(t)
	if _, err := verifier.Generate("ops", "superuser", time.Hour); err == nil {
		t.Error("Generate() should reject an unknown role")
	}
}
