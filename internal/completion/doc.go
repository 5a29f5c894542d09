// Package completion produces assistant replies for the storefront chat.
//
// # Overview
//
// A Responder asks an OpenAI-compatible chat completion endpoint (Groq by
// default) for a reply, giving it a system prompt built from the store
// settings and the product catalog. When the upstream is unconfigured,
// unreachable, returns a non-200 status or a body that cannot be decoded,
// the Responder answers with the rule-based Fallback instead, so a visitor
// always gets a reply.
//
// # Product cards
//
// Products are rendered server-side as HTML cards (see FormatCard). Clients
// recognize the card wrapper and display it without further markdown
// processing.
package completion
