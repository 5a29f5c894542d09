// Package store provides persistent storage for the chat gateway using SQLite.
//
// # Architecture
//
// The store package splits its surface into narrow interfaces so consumers
// depend only on what they use:
//
//   - ChatLogStore: per-message chat log kept for support monitoring
//   - MirrorStore: append-only conversation mirror entries
//   - CatalogStore: storefront products used for assistant context and search
//   - AgentStore: support agent accounts and presence heartbeats
//
// SQLiteStore implements all of them; MockStore is the in-memory variant used
// by unit tests in other packages.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC3339 strings in UTC. Mirror entries use
// nanosecond precision because subscribers filter them by recency.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicate: unique key already present (agent username, mirror entry id)
package store
