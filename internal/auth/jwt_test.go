package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	str, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return str
}

func TestVerifyNestedClaims(t *testing.T) {
	secret := []byte("secret-key")
	v := NewVerifier(secret)

	tokenStr := signHS256(t, secret, jwt.MapClaims{
		"user": map[string]interface{}{"username": "alice", "uid": "u-1"},
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(tokenStr)
	if err != nil {
		t.Fatalf("expected valid token, got error %v", err)
	}
	if id.Username != "alice" || id.UserID != "u-1" {
		t.Fatalf("unexpected identity: %#v", id)
	}
}

func TestVerifyFlatClaims(t *testing.T) {
	secret := []byte("secret-key")
	v := NewVerifier(secret)

	tokenStr := signHS256(t, secret, jwt.MapClaims{
		"username": "bob",
		"sub":      "u-2",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(tokenStr)
	if err != nil {
		t.Fatalf("expected valid token, got error %v", err)
	}
	if id.Username != "bob" || id.UserID != "u-2" {
		t.Fatalf("unexpected identity: %#v", id)
	}
}

func TestVerifyExpired(t *testing.T) {
	secret := []byte("secret-key")
	v := NewVerifier(secret)

	tokenStr := signHS256(t, secret, jwt.MapClaims{
		"username": "bob",
		"sub":      "u-2",
		"exp":      time.Now().Add(-time.Minute).Unix(),
	})

	if _, err := v.Verify(tokenStr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for expired token, got %v", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	v := NewVerifier([]byte("secret-a"))

	tokenStr := signHS256(t, []byte("other-secret"), jwt.MapClaims{
		"username": "bob",
		"sub":      "u-2",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.Verify(tokenStr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for bad signature, got %v", err)
	}
}

func TestVerifyUnexpectedMethod(t *testing.T) {
	v := NewVerifier([]byte("secret-a"))

	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"username": "bob",
		"sub":      "u-2",
	}).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := v.Verify(tokenStr); err == nil || !strings.Contains(err.Error(), "unexpected signing method") {
		t.Fatalf("expected signing method error, got %v", err)
	}
}

func TestVerifyMissingIdentity(t *testing.T) {
	secret := []byte("secret-key")
	v := NewVerifier(secret)

	tokenStr := signHS256(t, secret, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.Verify(tokenStr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for identity-less token, got %v", err)
	}
}

func TestTokenFromHeader(t *testing.T) {
	token, err := TokenFromHeader("Bearer abc.def.ghi")
	if err != nil || token != "abc.def.ghi" {
		t.Fatalf("expected token, got %q err %v", token, err)
	}

	if _, err := TokenFromHeader(""); !errors.Is(err, ErrMissingAuthHeader) {
		t.Fatalf("expected ErrMissingAuthHeader, got %v", err)
	}
	if _, err := TokenFromHeader("Basic abc"); !errors.Is(err, ErrMissingAuthHeader) {
		t.Fatalf("expected ErrMissingAuthHeader, got %v", err)
	}
}
