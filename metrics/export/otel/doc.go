// Package otel exports client metrics through OpenTelemetry.
//
// [NewExporter] registers one observable counter per client counter. Each
// latency histogram becomes a <name>_bucket gauge with one cumulative point
// per upper bound, keyed by the "le" attribute, and a <name>_count gauge. A
// single callback reads one client snapshot per collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate client state.
package otel
