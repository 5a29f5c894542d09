// ABOUTME: HTTP middleware for agent bearer tokens and visitor nonces
// ABOUTME: Verified callers are attached to the request context as an Identity

package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nexcart/nexcart-gateway/internal/store"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// ErrNoCredentials is returned when a request carries no bearer token.
var ErrNoCredentials = errors.New("missing authorization header")

// AgentFromRequest verifies the request's bearer token and loads the agent.
// The agent's current display name and role come from the store, so
// changes apply without a new login.
func AgentFromRequest(r *http.Request, agents store.AgentStore, signer *Signer) (*Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, ErrNoCredentials
	}
	token, errMsg := extractBearerToken(header)
	if errMsg != "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, errMsg)
	}

	claims, err := signer.Verify(token, KindAgent)
	if err != nil {
		return nil, err
	}

	agent, err := agents.GetAgent(r.Context(), claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: agent %s: %w", ErrInvalidToken, claims.Subject, err)
	}

	return &Identity{
		Subject: agent.ID,
		Kind:    KindAgent,
		Name:    agent.DisplayName,
		Role:    agent.Role,
	}, nil
}

// RequireAgent rejects requests without a valid agent token for an existing agent.
func RequireAgent(agents store.AgentStore, signer *Signer, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := AgentFromRequest(r, agents, signer)
			if errors.Is(err, ErrNoCredentials) {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}
			if err != nil {
				logger.Debug("agent token rejected", "error", err)
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireAdmin requires an admin agent. Must be used after RequireAgent.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil {
				http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
				return
			}
			if !id.IsAdmin() {
				http.Error(w, `{"error":"admin role required"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// VisitorFromNonce verifies a nonce and returns the visitor identity.
func VisitorFromNonce(signer *Signer, nonce string) (*Identity, error) {
	claims, err := signer.Verify(nonce, KindNonce)
	if err != nil {
		return nil, err
	}
	return &Identity{Subject: claims.Subject, Kind: KindNonce, Name: claims.Name}, nil
}
