// Package audit dispatches lifecycle audit events asynchronously.
//
// # Components
//
//   - [Sink]: event consumer (channel, JSON writer, slog, no-op).
//   - [Dispatcher]: buffered relay with drop-if-full or block-if-full semantics.
//   - [Event]: structured record with type, principal, client address and outcome.
//
// The engine decides which events to emit; this package only buffers and
// delivers them. Events never carry token material.
package audit
