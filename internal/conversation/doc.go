// Package conversation is the server-side conversation layer of nexcart-gateway.
//
// # Overview
//
// Every visitor and agent message passes through Service, which records it
// in the chat log before acting on it:
//
//   - Chat: record the visitor message, ask the Responder, record the reply.
//   - SendLive: record the visitor message and announce it on the support feed.
//   - SupportReply: append the agent reply to the conversation mirror, where
//     the visitor's widget picks it up, and record it.
//
// # Support feed
//
// Agents (the Matrix bridge, the support API) subscribe to a single feed of
// live requests. The feed is a fanout.Broadcaster keyed by a constant, so
// every connected agent sees every request; a slow agent never blocks a
// visitor because publishing is non-blocking.
//
// # Persistence
//
// Chat log writes use a detached context with a short timeout so a visitor
// closing the tab does not lose the record.
package conversation
