// Package otel publishes keyward metrics through an OpenTelemetry Meter.
//
// [New] registers one Int64ObservableCounter per counter and one
// Int64ObservableGauge per cumulative latency bucket. A single callback
// reads the engine snapshot on every collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
