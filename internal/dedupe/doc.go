// Package dedupe remembers recently seen keys for a bounded time and size.
// Stream followers use it to drop entries replayed after a reconnect, and
// the Matrix bridge to ignore redelivered room events.
package dedupe
