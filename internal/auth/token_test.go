// ABOUTME: Unit tests for nonce and agent token issuing and verification
// ABOUTME: Tests valid tokens, tampered tokens, expiry and kind separation

package auth

import (
	"errors"
	"testing"
	"time"
)

var testSecret = []byte("test-secret-key-for-jwt-signing!")

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(testSecret)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	return s
}

func TestNewSigner_WeakSecret(t *testing.T) {
	_, err := NewSigner([]byte("short"))
	if !errors.Is(err, ErrWeakSecret) {
		t.Errorf("NewSigner() error = %v, want ErrWeakSecret", err)
	}
}

func TestSigner_NonceRoundTrip(t *testing.T) {
	s := newTestSigner(t)

	token, err := s.IssueNonce("guest_abc", "Guest", time.Hour)
	if err != nil {
		t.Fatalf("IssueNonce() error = %v", err)
	}

	claims, err := s.Verify(token, KindNonce)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "guest_abc" {
		t.Errorf("Subject = %q, want guest_abc", claims.Subject)
	}
	if claims.Name != "Guest" {
		t.Errorf("Name = %q, want Guest", claims.Name)
	}
}

func TestSigner_AgentRoundTrip(t *testing.T) {
	s := newTestSigner(t)

	token, err := s.IssueAgent("agent-1", "Karim", "editor", time.Hour)
	if err != nil {
		t.Fatalf("IssueAgent() error = %v", err)
	}

	claims, err := s.Verify(token, KindAgent)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "agent-1" || claims.Role != "editor" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestSigner_KindsAreNotInterchangeable(t *testing.T) {
	s := newTestSigner(t)
	nonce, _ := s.IssueNonce("guest_abc", "Guest", time.Hour)

	_, err := s.Verify(nonce, KindAgent)
	if !errors.Is(err, ErrWrongKind) {
		t.Errorf("Verify(nonce, agent) error = %v, want ErrWrongKind", err)
	}
}

func TestSigner_InvalidTokens(t *testing.T) {
	s := newTestSigner(t)
	other, _ := NewSigner([]byte("another-secret-that-is-32-bytes!"))
	foreign, _ := other.IssueNonce("guest_abc", "Guest", time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt-token"},
		{name: "malformed JWT", token: "header.payload.signature"},
		{name: "wrong secret", token: foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Verify(tt.token, KindNonce)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestSigner_ExpiredToken(t *testing.T) {
	s := newTestSigner(t)
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }
	token, _ := s.IssueNonce("guest_abc", "Guest", time.Hour)

	s.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err := s.Verify(token, KindNonce)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter2hunter2")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == "hunter2hunter2" {
		t.Fatal("hash must not equal the password")
	}
	if err := CheckPassword(hash, "hunter2hunter2"); err != nil {
		t.Errorf("CheckPassword(correct) error = %v", err)
	}
	if err := CheckPassword(hash, "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("CheckPassword(wrong) error = %v, want ErrBadCredentials", err)
	}
}
