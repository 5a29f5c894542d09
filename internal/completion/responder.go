// ABOUTME: Responder combines the completion client with the rule-based fallback
// ABOUTME: Always yields a reply; upstream failures are logged and answered by the fallback

package completion

import (
	"context"
	"log/slog"

	"github.com/nexcart/nexcart-gateway/internal/store"
)

const promptProducts = 5

// Completer is the upstream a Responder asks first.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Responder produces assistant replies.
type Responder struct {
	upstream Completer
	fallback *Fallback
	info     StoreInfo
	catalog  store.CatalogStore
	logger   *slog.Logger
}

// NewResponder creates a responder. A nil upstream always uses the fallback.
func NewResponder(upstream Completer, info StoreInfo, catalog store.CatalogStore, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		upstream: upstream,
		fallback: NewFallback(info, catalog, logger),
		info:     info,
		catalog:  catalog,
		logger:   logger.With("component", "responder"),
	}
}

// Reply answers message. The second return reports whether the fallback
// produced the answer.
func (r *Responder) Reply(ctx context.Context, message string) (string, bool) {
	if r.upstream == nil {
		return r.fallback.Respond(ctx, message), true
	}

	messages := []Message{
		{Role: "system", Content: r.systemPrompt(ctx)},
		{Role: "user", Content: message},
	}
	reply, err := r.upstream.Complete(ctx, messages)
	if err == nil && reply != "" {
		return reply, false
	}

	if err != nil {
		r.logger.Warn("completion failed, using fallback", "error", err)
	}
	return r.fallback.Respond(ctx, message), true
}

func (r *Responder) systemPrompt(ctx context.Context) string {
	var popular []*store.Product
	if r.catalog != nil {
		var err error
		popular, err = r.catalog.PopularProducts(ctx, promptProducts)
		if err != nil {
			r.logger.Warn("loading popular products failed", "error", err)
		}
	}
	return SystemPrompt(r.info, popular)
}
