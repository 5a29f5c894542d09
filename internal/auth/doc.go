// Package auth issues and checks the tokens used by nexcart-gateway.
//
// # Visitor nonces
//
// Every widget session starts with POST /api/session, which returns a
// short-lived HS256 token (the "nonce") whose subject is the visitor id
// (user_<id> or guest_<uuid>). Chat, live-support and mirror endpoints reject
// requests without a valid nonce with 403.
//
// # Agent tokens
//
// Support agents log in with a username and a bcrypt-hashed password and
// receive a bearer token of kind "agent". RequireAgent validates the token,
// loads the agent and attaches an Identity to the request context.
//
// Both token kinds are signed with the configured jwt_secret; the kind claim
// keeps a visitor nonce from being replayed as an agent token.
package auth
