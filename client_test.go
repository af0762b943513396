package goAuthClient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goAuthClient/envelope"
)

// fakeAuthAPI is a minimal server half of the refresh protocol: login sets a
// refresh cookie, refresh exchanges it for the next token, and /items
// requires the current token.
type fakeAuthAPI struct {
	mu          sync.Mutex
	valid       string
	next        string
	refreshErr  string
	refreshes   atomic.Int32
	requestIDs  []string
	refreshGate chan struct{}
}

func (f *fakeAuthAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "r1", Path: "/", HttpOnly: true})
		f.mu.Lock()
		token := f.valid
		f.mu.Unlock()
		envelope.WriteOK(w, http.StatusOK, map[string]any{"access_token": token, "token_type": "Bearer"})
	})
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.refreshes.Add(1)
		if f.refreshGate != nil {
			<-f.refreshGate
		}
		if _, err := r.Cookie("refresh_token"); err != nil {
			envelope.WriteError(w, http.StatusUnauthorized, "missing refresh token")
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.refreshErr != "" {
			envelope.WriteError(w, http.StatusUnauthorized, f.refreshErr)
			return
		}
		f.valid = f.next
		envelope.WriteOK(w, http.StatusOK, map[string]any{"access_token": f.next})
	})
	mux.HandleFunc("GET /items", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requestIDs = append(f.requestIDs, r.Header.Get("X-Request-ID"))
		valid := f.valid
		f.mu.Unlock()

		switch r.Header.Get("Authorization") {
		case "":
			envelope.WriteError(w, http.StatusUnauthorized, "missing token")
		case "Bearer " + valid:
			envelope.WriteOK(w, http.StatusOK, []map[string]any{{"id": 1, "name": "first"}})
		default:
			envelope.WriteError(w, http.StatusUnauthorized, "invalid token")
		}
	})
	return mux
}

func newTestClient(t *testing.T, api *fakeAuthAPI, mutate func(*Config), sink AuditSink) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.Transport.BaseURL = srv.URL
	cfg.Metrics.Enabled = true
	if mutate != nil {
		mutate(&cfg)
	}
	b := New().WithConfig(cfg).WithHTTPClient(srv.Client())
	if sink != nil {
		b = b.WithAuditSink(sink)
	}
	c, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func login(t *testing.T, c *Client) {
	t.Helper()
	_, err := c.Post(context.Background(), "/auth/login", map[string]string{"email": "a@example.com", "password": "pw"})
	require.NoError(t, err)
}

func TestClientCapturesLoginTokenAndAttachesIt(t *testing.T) {
	api := &fakeAuthAPI{valid: "t1", next: "t2"}
	c := newTestClient(t, api, nil, nil)

	_, err := c.Get(context.Background(), "/items")
	require.True(t, IsStatus(err, http.StatusUnauthorized, "missing token"), "got %v", err)

	login(t, c)
	token, ok := c.AccessToken()
	require.True(t, ok)
	require.Equal(t, "t1", token)

	data, err := c.Get(context.Background(), "/items")
	require.NoError(t, err)
	require.JSONEq(t, `[{"id":1,"name":"first"}]`, string(data))
	require.Zero(t, api.refreshes.Load())
}

func TestClientWithoutCaptureLeavesCredentialAlone(t *testing.T) {
	api := &fakeAuthAPI{valid: "t1", next: "t2"}
	c := newTestClient(t, api, func(cfg *Config) { cfg.CaptureAccessTokens = false }, nil)

	login(t, c)
	_, ok := c.AccessToken()
	require.False(t, ok)
}

func TestClientRefreshesOnceForConcurrentExpiredRequests(t *testing.T) {
	api := &fakeAuthAPI{valid: "t1", next: "t2"}
	c := newTestClient(t, api, nil, nil)
	login(t, c)

	api.mu.Lock()
	api.valid = "rotated-elsewhere"
	api.mu.Unlock()

	const n = 24
	var wg sync.WaitGroup
	wg.Add(n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), "/items")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, api.refreshes.Load())
	token, _ := c.AccessToken()
	require.Equal(t, "t2", token)

	snap := c.MetricsSnapshot()
	require.EqualValues(t, 1, snap.Counters[MetricRefreshTriggered])
	require.EqualValues(t, 1, snap.Counters[MetricRefreshSuccess])
	require.EqualValues(t, n+1, snap.Counters[MetricRequestSuccess], "login plus every replayed request")
	require.False(t, c.Refreshing())
}

func TestClientLaterRequestsUseRefreshedCredential(t *testing.T) {
	api := &fakeAuthAPI{valid: "t1", next: "t2"}
	c := newTestClient(t, api, nil, nil)
	login(t, c)
	c.SetAccessToken("expired")

	_, err := c.Get(context.Background(), "/items")
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "/items")
	require.NoError(t, err)
	require.EqualValues(t, 1, api.refreshes.Load())
}

func TestClientRefreshFailureClearsCredential(t *testing.T) {
	api := &fakeAuthAPI{valid: "t1", next: "t2", refreshErr: "refresh session revoked"}
	sink := NewChannelSink(16)
	c := newTestClient(t, api, nil, sink)
	login(t, c)
	c.SetAccessToken("expired")

	_, err := c.Get(context.Background(), "/items")
	require.ErrorIs(t, err, ErrRefreshFailed)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "refresh session revoked", apiErr.Message)

	_, ok := c.AccessToken()
	require.False(t, ok)

	c.Close()
	var kinds []AuditKind
	for len(sink.Events()) > 0 {
		kinds = append(kinds, (<-sink.Events()).Kind)
	}
	require.Contains(t, kinds, AuditRefreshFailure)
	require.Contains(t, kinds, AuditCredentialCleared)
}

func TestClientNonTriggerFailureIsNotRefreshed(t *testing.T) {
	api := &fakeAuthAPI{valid: "t1", next: "t2"}
	c := newTestClient(t, api, nil, nil)

	_, err := c.Get(context.Background(), "/items")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "missing token", apiErr.Message)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Zero(t, api.refreshes.Load())
	require.EqualValues(t, 1, c.MetricsSnapshot().Counters[MetricRequestAPIFailure])
}

func TestClientNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New().WithBaseURL(base).WithMetricsEnabled(true).Build()
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get(context.Background(), "/items")
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	require.EqualValues(t, 1, c.MetricsSnapshot().Counters[MetricRequestNetworkFailure])
}

func TestClientReplayKeepsRequestID(t *testing.T) {
	api := &fakeAuthAPI{valid: "t1", next: "t2"}
	c := newTestClient(t, api, nil, nil)
	login(t, c)
	c.SetAccessToken("expired")

	ctx := WithRequestID(context.Background(), "req-42")
	_, err := c.Get(ctx, "/items")
	require.NoError(t, err)

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Equal(t, []string{"req-42", "req-42"}, api.requestIDs)
}

func TestClientExplicitRefreshRestoresSession(t *testing.T) {
	api := &fakeAuthAPI{valid: "t1", next: "t2"}
	c := newTestClient(t, api, nil, nil)
	login(t, c)
	c.ClearAccessToken()

	token, err := c.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "t2", token)
	current, ok := c.AccessToken()
	require.True(t, ok)
	require.Equal(t, "t2", current)
}

func TestClientQueuedRequestsShareRefreshOutcome(t *testing.T) {
	api := &fakeAuthAPI{valid: "t1", next: "t2", refreshGate: make(chan struct{})}
	c := newTestClient(t, api, nil, nil)
	login(t, c)
	c.SetAccessToken("expired")

	first := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), "/items")
		first <- err
	}()
	require.Eventually(t, c.Refreshing, 2*time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), "/items")
		second <- err
	}()
	require.Eventually(t, func() bool {
		return c.MetricsSnapshot().Counters[MetricRequestQueued] == 1
	}, 2*time.Second, time.Millisecond)
	close(api.refreshGate)

	require.NoError(t, <-first)
	require.NoError(t, <-second)
	require.EqualValues(t, 1, api.refreshes.Load())
	require.EqualValues(t, 2, c.MetricsSnapshot().Counters[MetricRequestReplayed])
}

type item struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestCallDecodesData(t *testing.T) {
	api := &fakeAuthAPI{valid: "t1", next: "t2"}
	c := newTestClient(t, api, nil, nil)
	login(t, c)

	items, err := Call[[]item](context.Background(), c, Request{Method: http.MethodGet, Path: "/items"})
	require.NoError(t, err)
	require.Equal(t, []item{{ID: 1, Name: "first"}}, items)
}

func TestClientRejectsIncompleteRequests(t *testing.T) {
	api := &fakeAuthAPI{valid: "t1", next: "t2"}
	c := newTestClient(t, api, nil, nil)

	_, err := c.Do(context.Background(), Request{Path: "/items"})
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = c.Do(context.Background(), Request{Method: http.MethodGet})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestClientClosed(t *testing.T) {
	api := &fakeAuthAPI{valid: "t1", next: "t2"}
	c := newTestClient(t, api, nil, nil)
	c.Close()
	c.Close()

	_, err := c.Get(context.Background(), "/items")
	require.ErrorIs(t, err, ErrClientNotReady)
	_, err = c.Refresh(context.Background())
	require.ErrorIs(t, err, ErrClientNotReady)
}

func TestBuilderIsSingleUse(t *testing.T) {
	b := New().WithBaseURL("http://127.0.0.1:1")
	c, err := b.Build()
	require.NoError(t, err)
	defer c.Close()

	_, err = b.Build()
	require.ErrorIs(t, err, ErrBuilderUsed)
}

func TestBuilderKeepsCallerHTTPClient(t *testing.T) {
	hc := &http.Client{Timeout: time.Second}
	c, err := New().WithBaseURL("http://127.0.0.1:1").WithHTTPClient(hc).Build()
	require.NoError(t, err)
	defer c.Close()

	require.Nil(t, hc.Jar, "caller client must not be mutated")
	require.NotNil(t, c.HTTPClient().Jar)
	require.Equal(t, time.Second, c.HTTPClient().Timeout)
}
