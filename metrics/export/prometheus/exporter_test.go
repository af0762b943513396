package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	goAuthClient "github.com/MrEthical07/goAuthClient"
	"github.com/MrEthical07/goAuthClient/metrics/export/internaldefs"
)

type fakeSource struct {
	snapshot goAuthClient.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goAuthClient.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                          { return f.dropped }

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestCollectorExposesCountersAndHistograms(t *testing.T) {
	col := NewCollectorFromSource(fakeSource{
		snapshot: goAuthClient.MetricsSnapshot{
			Counters: map[goAuthClient.MetricID]uint64{
				goAuthClient.MetricRefreshSuccess: 7,
			},
			Histograms: map[goAuthClient.MetricID][]uint64{
				goAuthClient.MetricRequestLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := scrape(t, col)
	for _, want := range []string{
		"goauthclient_refresh_success_total 7",
		"goauthclient_request_success_total 0",
		`goauthclient_request_latency_seconds_bucket{le="0.005"} 1`,
		`goauthclient_request_latency_seconds_bucket{le="+Inf"} 36`,
		"goauthclient_request_latency_seconds_count 36",
		`goauthclient_refresh_latency_seconds_bucket{le="+Inf"} 0`,
		"goauthclient_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestCollectorMetricCount(t *testing.T) {
	col := NewCollectorFromSource(fakeSource{})
	want := len(internaldefs.CounterDefs) + len(internaldefs.HistogramDefs) + 1
	if got := testutil.CollectAndCount(col); got != want {
		t.Fatalf("expected %d metrics, got %d", want, got)
	}
}

func TestCollectorLint(t *testing.T) {
	col := NewCollectorFromSource(fakeSource{})
	problems, err := testutil.CollectAndLint(col)
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	for _, p := range problems {
		t.Errorf("%s: %s", p.Metric, p.Text)
	}
}

func TestCollectorReadsLiveClient(t *testing.T) {
	c, err := goAuthClient.New().WithBaseURL("http://127.0.0.1:1").WithMetricsEnabled(true).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer c.Close()

	c.SetAccessToken("t")
	c.ClearAccessToken()

	out := scrape(t, NewCollector(c))
	if !strings.Contains(out, "goauthclient_credential_cleared_total 1") {
		t.Fatalf("expected cleared counter, got:\n%s", out)
	}
}
