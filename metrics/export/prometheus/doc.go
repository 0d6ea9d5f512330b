// Package prometheus renders keyward metrics in the Prometheus text exposition
// format.
//
// [New] wraps a [keyward.Engine]; [Exporter.Handler] serves the current
// snapshot. Counters are named keyward_*_total and the verification latency
// histogram is keyward_verify_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in a global registry; callers mount the handler.
//   - Mutate engine state.
package prometheus
