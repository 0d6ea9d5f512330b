// Package audit implements async event dispatching for security-relevant operations.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, slog, no-op).
//   - [Dispatcher]: buffered async relay. Ordinary events drop on a full
//     buffer when configured; must-deliver types wait. Shutdown drains under
//     a deadline and every lost event is counted per type with a [DropReason].
//   - [Event]: structured audit record with id, timestamp, type, identity, IP, metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which
// events to emit; the Engine does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import keyward or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
