// Package gateway serves the storefront chat API.
//
// # Overview
//
// The gateway owns every backend the widget and support agents talk to: the
// SQLite store, the conversation mirror (local, Redis Streams or Supabase),
// the server-side rate limiter, support presence, the completion responder
// and the conversation service that records and routes messages.
//
// # Visitor API
//
// Visitors start with POST /api/session, which returns a visitor id, a
// signed nonce and widget settings. Every later visitor call carries the
// nonce, and a visitor may only address chat ids that start with its
// visitor id followed by an underscore.
//
//   - POST /api/session - visitor id, nonce, widget settings
//   - POST /api/chat - AI reply, {success, data:{response}}
//   - POST /api/live/send - hand a message to human support
//   - GET /api/support/status - {online, message}
//   - POST /api/chats/{id}/mirror - append a mirror entry
//   - GET /api/chats/{id}/stream - SSE mirror stream ("entry" events)
//
// Chat validation failures answer {success:false, data:{message}} so the
// widget can show the text: a bad nonce is 403 and the rate limit is 429.
//
// # Support API
//
// Agents log in with a username and password and use the returned bearer
// token afterwards.
//
//   - POST /api/support/login
//   - POST /api/support/heartbeat
//   - POST /api/support/message - reply to a visitor through the mirror
//   - GET /api/support/feed - SSE live requests ("request" events)
//   - GET /api/support/chats, GET /api/support/chats/{id} - chat logs
//   - GET /api/chats/{id}/history - mirror history
//   - POST /api/support/agents - create an agent (admin)
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//	cancel() // Run shuts down and releases the backends
//
// With tailscale.enabled the gateway joins the tailnet through tsnet and
// serves plain HTTP, tailnet HTTPS or a public Funnel instead of binding
// server.http_addr.
package gateway
