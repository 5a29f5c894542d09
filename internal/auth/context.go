// ABOUTME: Request identity for tracking who is calling through handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating auth info via context

package auth

import (
	"context"

	"github.com/nexcart/nexcart-gateway/internal/store"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	Subject string // visitor id or agent id
	Kind    Kind
	Name    string
	Role    string // agent role; empty for visitors
}

// IsAgent reports whether the caller is a support agent.
func (i *Identity) IsAgent() bool {
	return i != nil && i.Kind == KindAgent
}

// IsAdmin reports whether the caller is an agent with the admin role.
func (i *Identity) IsAdmin() bool {
	return i.IsAgent() && i.Role == store.AgentRoleAdmin
}

type identityKey struct{}

// WithIdentity returns a new context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// MustFromContext retrieves the Identity from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Identity {
	id := FromContext(ctx)
	if id == nil {
		panic("auth: Identity not found in context")
	}
	return id
}
