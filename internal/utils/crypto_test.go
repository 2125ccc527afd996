package utils

import (
	"errors"
	"testing"
	"time"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	if hash == "secret123" {
		t.Error("Hash should not match plaintext password")
	}
	if !CheckPasswordHash("secret123", hash) {
		t.Error("Password should match hash")
	}
	if CheckPasswordHash("wrongpassword", hash) {
		t.Error("Wrong password should not match hash")
	}
}

func TestSessionSigner(t *testing.T) {
	signer, err := NewSessionSigner("test-secret-key-12345", time.Hour)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	token, expires, err := signer.Issue("user-1", "1000000001", "admin")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !expires.After(time.Now()) {
		t.Fatalf("expected expiry in the future, got %v", expires)
	}

	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.NationalID != "1000000001" || claims.UserType != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	other, _ := NewSessionSigner("another-secret", time.Hour)
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign secret, got %v", err)
	}

	signer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := signer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestNewSessionSignerRequiresSecret(t *testing.T) {
	if _, err := NewSessionSigner("", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
