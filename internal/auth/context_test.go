// ABOUTME: Tests for request identity propagation through context
// ABOUTME: Covers storage, retrieval, the panic path and role helpers

package auth

import (
	"context"
	"testing"

	"github.com/nexcart/nexcart-gateway/internal/store"
)

func TestWithIdentity_FromContext(t *testing.T) {
	id := &Identity{Subject: "agent-1", Kind: KindAgent, Role: store.AgentRoleAgent}
	ctx := WithIdentity(context.Background(), id)

	if got := FromContext(ctx); got != id {
		t.Errorf("FromContext() = %v, want %v", got, id)
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %v, want nil", got)
	}
}

func TestMustFromContext_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustFromContext() did not panic")
		}
	}()
	MustFromContext(context.Background())
}

func TestIdentity_Roles(t *testing.T) {
	tests := []struct {
		name      string
		id        *Identity
		wantAgent bool
		wantAdmin bool
	}{
		{"nil", nil, false, false},
		{"visitor", &Identity{Kind: KindNonce}, false, false},
		{"agent", &Identity{Kind: KindAgent, Role: store.AgentRoleAgent}, true, false},
		{"admin", &Identity{Kind: KindAgent, Role: store.AgentRoleAdmin}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.IsAgent(); got != tt.wantAgent {
				t.Errorf("IsAgent() = %v, want %v", got, tt.wantAgent)
			}
			if got := tt.id.IsAdmin(); got != tt.wantAdmin {
				t.Errorf("IsAdmin() = %v, want %v", got, tt.wantAdmin)
			}
		})
	}
}
