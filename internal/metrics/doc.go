// Package metrics provides lock-free counters and a latency histogram for
// keyward observability.
//
// # Design
//
// Counters are stored in cache-line-padded uint64 slots and incremented
// atomically via [sync/atomic.AddUint64]. The bearer verification histogram
// uses 8 fixed buckets (≤5ms … +Inf). Both are allocation-free on the write
// path.
//
// # Architecture boundaries
//
// This package owns metric storage and snapshot creation. Export
// (Prometheus, OTel) lives in metrics/export/ and reads Snapshot values.
//
// # What this package must NOT do
//
//   - Perform I/O or network calls.
//   - Import keyward or any sibling package.
//   - Expose global metric registries.
package metrics
