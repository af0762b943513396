// Package prometheus exposes client metrics through client_golang.
//
// [NewCollector] returns a [prometheus.Collector] to register wherever the
// application keeps its registry; [Collector.Handler] serves it standalone.
// Counters are named goauthclient_*_total and the latency histograms
// goauthclient_request_latency_seconds and goauthclient_refresh_latency_seconds.
//
// # What this package must NOT do
//
//   - Register into the global default registry.
//   - Mutate client state.
package prometheus
