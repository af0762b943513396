package internaldefs

import (
	goAuthClient "github.com/MrEthical07/goAuthClient"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   goAuthClient.MetricID
	Name string
	Help string
}

// HistogramDef names one exported latency histogram.
type HistogramDef struct {
	ID   goAuthClient.MetricID
	Name string
	Help string
}

const namespace = "goauthclient_"

// AuditDroppedName is the counter for audit events dropped on a full buffer.
const AuditDroppedName = namespace + "audit_dropped_total"

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	counter(goAuthClient.MetricRequestSuccess, "Logical requests that returned data."),
	counter(goAuthClient.MetricRequestAPIFailure, "Logical requests that failed with an API error."),
	counter(goAuthClient.MetricRequestNetworkFailure, "Logical requests that failed without a response."),
	counter(goAuthClient.MetricRefreshTriggered, "Refresh calls started."),
	counter(goAuthClient.MetricRefreshSuccess, "Refresh calls that produced a credential."),
	counter(goAuthClient.MetricRefreshFailure, "Refresh calls that failed."),
	counter(goAuthClient.MetricRequestQueued, "Requests parked behind an in-flight refresh."),
	counter(goAuthClient.MetricRequestReplayed, "Requests replayed after a refresh."),
	counter(goAuthClient.MetricReplayFailure, "Replays that failed."),
	counter(goAuthClient.MetricCredentialCaptured, "Credentials captured from response payloads."),
	counter(goAuthClient.MetricCredentialCleared, "Credential clears."),
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goAuthClient.MetricRequestLatency, Name: namespace + "request_latency_seconds", Help: "Logical request latency, replay included."},
	{ID: goAuthClient.MetricRefreshLatency, Name: namespace + "refresh_latency_seconds", Help: "Refresh call latency."},
}

func counter(id goAuthClient.MetricID, help string) CounterDef {
	return CounterDef{ID: id, Name: namespace + id.String() + "_total", Help: help}
}

// HistogramBoundSeconds are the finite bucket upper bounds in seconds.
var HistogramBoundSeconds = boundSeconds()

func boundSeconds() []float64 {
	out := make([]float64, len(goAuthClient.HistogramBounds))
	for i, d := range goAuthClient.HistogramBounds {
		out[i] = d.Seconds()
	}
	return out
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to cumulative counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
