// ABOUTME: HS256 tokens for visitor nonces and support agent sessions
// ABOUTME: A kind claim separates the two so neither can stand in for the other

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum signing secret length in bytes.
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrWrongKind    = errors.New("wrong token kind")
	ErrWeakSecret   = errors.New("jwt secret too short")
)

// Kind distinguishes token audiences.
type Kind string

// Token kinds.
const (
	KindNonce Kind = "nonce"
	KindAgent Kind = "agent"
)

// Claims carried by every token.
type Claims struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues and verifies tokens with one secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a signer. The secret must be at least MinSecretLength bytes.
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrWeakSecret, len(secret), MinSecretLength)
	}
	return &Signer{secret: secret, now: time.Now}, nil
}

// IssueNonce creates a visitor nonce.
func (s *Signer) IssueNonce(visitorID, name string, ttl time.Duration) (string, error) {
	return s.issue(Claims{Kind: KindNonce, Name: name}, visitorID, ttl)
}

// IssueAgent creates a support agent bearer token.
func (s *Signer) IssueAgent(agentID, name, role string, ttl time.Duration) (string, error) {
	return s.issue(Claims{Kind: KindAgent, Name: name, Role: role}, agentID, ttl)
}

func (s *Signer) issue(c Claims, subject string, ttl time.Duration) (string, error) {
	now := s.now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(s.secret)
}

// Verify parses a token and checks its signature, expiry and kind.
func (s *Signer) Verify(tokenString string, want Kind) (*Claims, error) {
	var c Claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if c.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	if c.Kind != want {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongKind, c.Kind, want)
	}
	return &c, nil
}
