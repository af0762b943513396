package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthClient/internal/transport"
)

// fakeAPI accepts only the bearer credential in valid and records every
// exchange in arrival order.
type fakeAPI struct {
	mu    sync.Mutex
	valid string
	calls []transport.Request
	hook  func(ctx context.Context, req transport.Request)
}

func (f *fakeAPI) send(ctx context.Context, req transport.Request) (json.RawMessage, error) {
	if f.hook != nil {
		f.hook(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	valid := f.valid
	f.mu.Unlock()

	if req.Header.Get("Authorization") != "Bearer "+valid {
		return nil, &transport.APIError{Message: "invalid token", StatusCode: http.StatusUnauthorized, Code: http.StatusUnauthorized}
	}
	return json.RawMessage(`{"path":"` + req.Path + `"}`), nil
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// gatedRefresh hands out next once release is closed.
type gatedRefresh struct {
	calls   atomic.Int32
	release chan struct{}
	next    string
	err     error
}

func newGatedRefresh(next string) *gatedRefresh {
	return &gatedRefresh{release: make(chan struct{}), next: next}
}

func (g *gatedRefresh) refresh(ctx context.Context) (string, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return g.next, g.err
}

type recordingObserver struct {
	mu       sync.Mutex
	replayed []string
	started  chan string
	queued   chan string
	settled  chan error
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		started: make(chan string, 64),
		queued:  make(chan string, 64),
		settled: make(chan error, 64),
	}
}

func (o *recordingObserver) RefreshStarted(req Request)                { o.started <- req.ID }
func (o *recordingObserver) RefreshSettled(err error, _ time.Duration) { o.settled <- err }
func (o *recordingObserver) Queued(req Request)                        { o.queued <- req.ID }
func (o *recordingObserver) ReplayFailed(Request, error)               {}
func (o *recordingObserver) Replayed(req Request) {
	o.mu.Lock()
	o.replayed = append(o.replayed, req.ID)
	o.mu.Unlock()
}

func (o *recordingObserver) replays() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.replayed...)
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

type outcome struct {
	data json.RawMessage
	err  error
}

func goDo(c *Coordinator, ctx context.Context, req Request) <-chan outcome {
	out := make(chan outcome, 1)
	go func() {
		data, err := c.Do(ctx, req)
		out <- outcome{data: data, err: err}
	}()
	return out
}

func get(id, path string) Request {
	return Request{ID: id, Method: http.MethodGet, Path: path}
}

func TestConcurrentExpiredRequestsShareOneRefresh(t *testing.T) {
	api := &fakeAPI{valid: "fresh"}
	var refreshes atomic.Int32
	c := New(Config{}, api.send, func(context.Context) (string, error) {
		refreshes.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "fresh", nil
	}, nil)
	c.SetToken("stale")

	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := c.Do(context.Background(), get("r", "/items"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected request error: %v", err)
		}
	}
	if got := refreshes.Load(); got != 1 {
		t.Fatalf("expected exactly one refresh, got %d", got)
	}
	if token, ok := c.Token(); !ok || token != "fresh" {
		t.Fatalf("expected refreshed credential, got %q (%v)", token, ok)
	}
	if c.Refreshing() {
		t.Fatal("coordinator still refreshing after drain")
	}
}

func TestQueuedRequestsReplayInOrderAfterTrigger(t *testing.T) {
	api := &fakeAPI{valid: "fresh"}
	gate := newGatedRefresh("fresh")
	obs := newRecordingObserver()
	c := New(Config{}, api.send, gate.refresh, obs)
	c.SetToken("stale")

	a := goDo(c, context.Background(), get("A", "/a"))
	if id := waitFor(t, obs.started, "refresh start"); id != "A" {
		t.Fatalf("expected A to trigger the refresh, got %q", id)
	}
	b := goDo(c, context.Background(), get("B", "/b"))
	if id := waitFor(t, obs.queued, "B queued"); id != "B" {
		t.Fatalf("expected B queued, got %q", id)
	}
	cc := goDo(c, context.Background(), get("C", "/c"))
	if id := waitFor(t, obs.queued, "C queued"); id != "C" {
		t.Fatalf("expected C queued, got %q", id)
	}
	if !c.Refreshing() {
		t.Fatal("expected refresh in flight")
	}
	close(gate.release)

	for name, ch := range map[string]<-chan outcome{"A": a, "B": b, "C": cc} {
		res := waitFor(t, ch, name+" result")
		if res.err != nil {
			t.Fatalf("%s failed: %v", name, res.err)
		}
	}
	if got := gate.calls.Load(); got != 1 {
		t.Fatalf("expected one refresh call, got %d", got)
	}
	replays := obs.replays()
	if len(replays) != 3 || replays[0] != "A" || replays[1] != "B" || replays[2] != "C" {
		t.Fatalf("unexpected replay order %v", replays)
	}
	// Three rejected originals plus three replays carrying the new credential.
	if got := api.callCount(); got != 6 {
		t.Fatalf("expected 6 exchanges, got %d", got)
	}
	for _, req := range api.calls[3:] {
		if req.Header.Get("Authorization") != "Bearer fresh" {
			t.Fatalf("replay %s sent %q", req.Path, req.Header.Get("Authorization"))
		}
	}
}

func TestReplayIsAttemptedOnlyOnce(t *testing.T) {
	api := &fakeAPI{valid: "never-issued"}
	var refreshes atomic.Int32
	c := New(Config{}, api.send, func(context.Context) (string, error) {
		refreshes.Add(1)
		return "fresh", nil
	}, nil)
	c.SetToken("stale")

	_, err := c.Do(context.Background(), get("A", "/a"))
	if !transport.IsStatus(err, http.StatusUnauthorized, "invalid token") {
		t.Fatalf("expected replay failure to surface, got %v", err)
	}
	if got := refreshes.Load(); got != 1 {
		t.Fatalf("expected one refresh, got %d", got)
	}
	if got := api.callCount(); got != 2 {
		t.Fatalf("expected original plus one replay, got %d", got)
	}
}

func TestNonTriggerFailuresPassThrough(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"missing token", &transport.APIError{Message: "missing token", StatusCode: http.StatusUnauthorized}},
		{"forbidden", &transport.APIError{Message: "invalid token", StatusCode: http.StatusForbidden}},
		{"network", &transport.NetworkError{Method: http.MethodGet, Path: "/a", Err: errors.New("dial refused")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var sends, refreshes atomic.Int32
			c := New(Config{}, func(context.Context, transport.Request) (json.RawMessage, error) {
				sends.Add(1)
				return nil, tc.err
			}, func(context.Context) (string, error) {
				refreshes.Add(1)
				return "fresh", nil
			}, nil)

			_, err := c.Do(context.Background(), get("A", "/a"))
			if err != tc.err {
				t.Fatalf("expected original error, got %v", err)
			}
			if sends.Load() != 1 || refreshes.Load() != 0 {
				t.Fatalf("sends=%d refreshes=%d", sends.Load(), refreshes.Load())
			}
		})
	}
}

func TestRefreshEndpointNeverTriggersRefresh(t *testing.T) {
	for _, path := range []string{"/auth/refresh", "/auth/refresh/", "auth/refresh", "/auth/refresh?rotate=1"} {
		api := &fakeAPI{valid: "fresh"}
		var refreshes atomic.Int32
		c := New(Config{}, api.send, func(context.Context) (string, error) {
			refreshes.Add(1)
			return "fresh", nil
		}, nil)

		_, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: path})
		if !transport.IsStatus(err, http.StatusUnauthorized, "invalid token") {
			t.Fatalf("%s: expected raw failure, got %v", path, err)
		}
		if refreshes.Load() != 0 {
			t.Fatalf("%s: refresh endpoint triggered a refresh", path)
		}
	}
}

func TestRefreshFailureFailsEveryWaiter(t *testing.T) {
	api := &fakeAPI{valid: "fresh"}
	gate := newGatedRefresh("")
	cause := errors.New("refresh session revoked")
	gate.err = cause
	obs := newRecordingObserver()
	c := New(Config{}, api.send, gate.refresh, obs)
	c.SetToken("stale")

	a := goDo(c, context.Background(), get("A", "/a"))
	waitFor(t, obs.started, "refresh start")
	b := goDo(c, context.Background(), get("B", "/b"))
	waitFor(t, obs.queued, "B queued")
	close(gate.release)

	for name, ch := range map[string]<-chan outcome{"A": a, "B": b} {
		res := waitFor(t, ch, name+" result")
		if !errors.Is(res.err, ErrRefreshFailed) || !errors.Is(res.err, cause) {
			t.Fatalf("%s: expected refresh failure wrapping cause, got %v", name, res.err)
		}
	}
	if _, ok := c.Token(); ok {
		t.Fatal("credential should be cleared after failed refresh")
	}
	if len(obs.replays()) != 0 {
		t.Fatalf("nothing should replay after a failed refresh, got %v", obs.replays())
	}
	if c.Refreshing() {
		t.Fatal("coordinator still refreshing")
	}
}

func TestRefreshWithoutTokenIsFailure(t *testing.T) {
	api := &fakeAPI{valid: "fresh"}
	c := New(Config{}, api.send, func(context.Context) (string, error) { return "", nil }, nil)
	c.SetToken("stale")

	_, err := c.Do(context.Background(), get("A", "/a"))
	if !errors.Is(err, ErrMissingAccessToken) || !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected missing token failure, got %v", err)
	}
}

func TestQueuedCallerCancellationSkipsReplay(t *testing.T) {
	api := &fakeAPI{valid: "fresh"}
	gate := newGatedRefresh("fresh")
	obs := newRecordingObserver()
	c := New(Config{}, api.send, gate.refresh, obs)
	c.SetToken("stale")

	a := goDo(c, context.Background(), get("A", "/a"))
	waitFor(t, obs.started, "refresh start")
	ctx, cancel := context.WithCancel(context.Background())
	b := goDo(c, ctx, get("B", "/b"))
	waitFor(t, obs.queued, "B queued")
	cancel()

	if res := waitFor(t, b, "B result"); !errors.Is(res.err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", res.err)
	}
	close(gate.release)
	if res := waitFor(t, a, "A result"); res.err != nil {
		t.Fatalf("A failed: %v", res.err)
	}
	if replays := obs.replays(); len(replays) != 1 || replays[0] != "A" {
		t.Fatalf("expected only A replayed, got %v", replays)
	}
}

func TestLeaderCancellationDoesNotAbortSharedRefresh(t *testing.T) {
	api := &fakeAPI{valid: "fresh"}
	gate := newGatedRefresh("fresh")
	obs := newRecordingObserver()
	c := New(Config{}, api.send, gate.refresh, obs)
	c.SetToken("stale")

	ctx, cancel := context.WithCancel(context.Background())
	a := goDo(c, ctx, get("A", "/a"))
	waitFor(t, obs.started, "refresh start")
	b := goDo(c, context.Background(), get("B", "/b"))
	waitFor(t, obs.queued, "B queued")
	cancel()
	close(gate.release)

	if res := waitFor(t, b, "B result"); res.err != nil {
		t.Fatalf("B failed: %v", res.err)
	}
	if res := waitFor(t, a, "A result"); !errors.Is(res.err, context.Canceled) {
		t.Fatalf("expected A cancelled, got %v", res.err)
	}
	if err := waitFor(t, obs.settled, "settle"); err != nil {
		t.Fatalf("refresh should succeed, got %v", err)
	}
}

func TestStaleFailureAfterCredentialChangeReplaysWithoutRefresh(t *testing.T) {
	inFlight := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	api := &fakeAPI{valid: "fresh"}
	api.hook = func(context.Context, transport.Request) {
		once.Do(func() {
			close(inFlight)
			<-proceed
		})
	}
	var refreshes atomic.Int32
	c := New(Config{}, api.send, func(context.Context) (string, error) {
		refreshes.Add(1)
		return "fresh", nil
	}, nil)
	c.SetToken("stale")

	a := goDo(c, context.Background(), get("A", "/a"))
	<-inFlight
	c.SetToken("fresh")
	close(proceed)

	if res := waitFor(t, a, "A result"); res.err != nil {
		t.Fatalf("A failed: %v", res.err)
	}
	if refreshes.Load() != 0 {
		t.Fatalf("expected no refresh, got %d", refreshes.Load())
	}
}

func TestExplicitRefreshJoinsInFlightRefresh(t *testing.T) {
	api := &fakeAPI{valid: "fresh"}
	gate := newGatedRefresh("fresh")
	obs := newRecordingObserver()
	c := New(Config{}, api.send, gate.refresh, obs)

	type tokenResult struct {
		token string
		err   error
	}
	first := make(chan tokenResult, 1)
	go func() {
		token, err := c.Refresh(context.Background())
		first <- tokenResult{token, err}
	}()
	waitFor(t, obs.started, "refresh start")

	second := make(chan tokenResult, 1)
	go func() {
		token, err := c.Refresh(context.Background())
		second <- tokenResult{token, err}
	}()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		parked := len(c.pending)
		c.mu.Unlock()
		if parked == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second refresh never joined")
		}
		time.Sleep(time.Millisecond)
	}
	close(gate.release)

	for _, ch := range []chan tokenResult{first, second} {
		res := waitFor(t, ch, "refresh result")
		if res.err != nil || res.token != "fresh" {
			t.Fatalf("unexpected refresh result %q %v", res.token, res.err)
		}
	}
	if gate.calls.Load() != 1 {
		t.Fatalf("expected one refresh call, got %d", gate.calls.Load())
	}
}

func TestCredentialAttachment(t *testing.T) {
	var seen []string
	c := New(Config{}, func(_ context.Context, req transport.Request) (json.RawMessage, error) {
		seen = append(seen, req.Header.Get("Authorization"))
		return json.RawMessage(`null`), nil
	}, func(context.Context) (string, error) { return "", nil }, nil)

	if _, err := c.Do(context.Background(), get("A", "/a")); err != nil {
		t.Fatal(err)
	}
	c.SetToken("abc")
	if _, err := c.Do(context.Background(), get("B", "/b")); err != nil {
		t.Fatal(err)
	}
	custom := get("C", "/c")
	custom.Header = http.Header{"Authorization": []string{"Bearer caller"}}
	if _, err := c.Do(context.Background(), custom); err != nil {
		t.Fatal(err)
	}
	c.SetToken("")
	if _, ok := c.Token(); ok {
		t.Fatal("empty token should clear the credential")
	}

	want := []string{"", "Bearer abc", "Bearer caller"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("request %d: expected %q, got %q", i, want[i], seen[i])
		}
	}
	if custom.Header.Get("Authorization") != "Bearer caller" {
		t.Fatal("caller header mutated")
	}
}

// settleHook runs fn when a refresh settles, before any replay is sent.
type settleHook struct {
	NopObserver
	fn func()
}

func (h *settleHook) RefreshSettled(error, time.Duration) { h.fn() }

func TestReplayUsesCredentialHeldAtDispatch(t *testing.T) {
	api := &fakeAPI{valid: "override"}
	hook := &settleHook{}
	c := New(Config{}, api.send, func(context.Context) (string, error) {
		return "fresh", nil
	}, hook)
	hook.fn = func() { c.SetToken("override") }
	c.SetToken("stale")

	if _, err := c.Do(context.Background(), get("A", "/a")); err != nil {
		t.Fatalf("replay did not carry the current credential: %v", err)
	}

	api.mu.Lock()
	last := api.calls[len(api.calls)-1]
	api.mu.Unlock()
	if got := last.Header.Get("Authorization"); got != "Bearer override" {
		t.Fatalf("expected replay with override credential, got %q", got)
	}
}
