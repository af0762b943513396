package refresh

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/goAuthClient/internal/transport"
)

const (
	// DefaultRefreshPath is the refresh endpoint relative to the base URL.
	DefaultRefreshPath = "/auth/refresh"
	// DefaultTokenInvalidReason is the 401 reason that triggers a refresh.
	DefaultTokenInvalidReason = "invalid token"
)

// SendFunc performs one authenticated exchange.
type SendFunc func(ctx context.Context, req transport.Request) (json.RawMessage, error)

// RefreshFunc performs the refresh call and returns the new access token.
type RefreshFunc func(ctx context.Context) (string, error)

// Config controls trigger matching and the refresh call budget.
type Config struct {
	RefreshPath        string
	TokenInvalidReason string
	RefreshTimeout     time.Duration
}

// Observer receives coordinator lifecycle notifications. Implementations must
// not call back into the Coordinator.
type Observer interface {
	RefreshStarted(trigger Request)
	RefreshSettled(err error, elapsed time.Duration)
	Queued(req Request)
	Replayed(req Request)
	ReplayFailed(req Request, err error)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) RefreshStarted(Request)              {}
func (NopObserver) RefreshSettled(error, time.Duration) {}
func (NopObserver) Queued(Request)                      {}
func (NopObserver) Replayed(Request)                    {}
func (NopObserver) ReplayFailed(Request, error)         {}

type result struct {
	data  json.RawMessage
	token string
	err   error
}

// pendingRecord is a request parked behind an in-flight refresh. Records with
// join set only wait for the refresh outcome and are never replayed.
type pendingRecord struct {
	req  Request
	ctx  context.Context
	join bool
	done chan result
}

func (p *pendingRecord) wait() result {
	select {
	case res := <-p.done:
		return res
	case <-p.ctx.Done():
		return result{err: p.ctx.Err()}
	}
}

// Coordinator owns the credential, the refreshing flag and the pending queue
// for one client.
type Coordinator struct {
	config   Config
	send     SendFunc
	refresh  RefreshFunc
	observer Observer

	mu         sync.Mutex
	token      string
	generation uint64
	refreshing bool
	pending    []*pendingRecord
}

// New creates a Coordinator. A nil observer is replaced with [NopObserver].
func New(cfg Config, send SendFunc, refresh RefreshFunc, observer Observer) *Coordinator {
	cfg.RefreshPath = normalizePath(cfg.RefreshPath)
	if cfg.RefreshPath == "/" {
		cfg.RefreshPath = DefaultRefreshPath
	}
	if cfg.TokenInvalidReason == "" {
		cfg.TokenInvalidReason = DefaultTokenInvalidReason
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Coordinator{
		config:   cfg,
		send:     send,
		refresh:  refresh,
		observer: observer,
	}
}

// Token returns the current credential and whether one is present.
func (c *Coordinator) Token() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.token != ""
}

// SetToken replaces the credential. An empty token clears it.
func (c *Coordinator) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.generation++
	c.mu.Unlock()
}

// Refreshing reports whether a refresh call is outstanding.
func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

// Do sends req with the current credential. A trigger failure is recovered by
// refreshing (or waiting for the in-flight refresh) and replaying req once.
func (c *Coordinator) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	data, generation, err := c.dispatch(ctx, req)
	if err == nil || !c.Triggers(req, err) {
		return data, err
	}
	return c.recover(ctx, req.retry(), generation)
}

// Refresh joins the in-flight refresh or starts one, and returns the resulting
// credential.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.refreshing {
		rec := &pendingRecord{ctx: ctx, join: true, done: make(chan result, 1)}
		c.pending = append(c.pending, rec)
		c.mu.Unlock()
		res := rec.wait()
		return res.token, res.err
	}
	c.refreshing = true
	c.mu.Unlock()

	c.observer.RefreshStarted(Request{Method: http.MethodPost, Path: c.config.RefreshPath})
	token, queue, err := c.lead(ctx)
	if err != nil {
		return "", err
	}
	c.drain(queue, token)
	return token, nil
}

// Triggers reports whether err on req must start (or join) a refresh.
func (c *Coordinator) Triggers(req Request, err error) bool {
	if req.Retried() || c.IsRefreshPath(req.Path) {
		return false
	}
	return transport.IsStatus(err, http.StatusUnauthorized, c.config.TokenInvalidReason)
}

// IsRefreshPath reports whether path addresses the refresh endpoint.
func (c *Coordinator) IsRefreshPath(path string) bool {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return normalizePath(path) == c.config.RefreshPath
}

func (c *Coordinator) dispatch(ctx context.Context, req Request) (json.RawMessage, uint64, error) {
	c.mu.Lock()
	token, generation := c.token, c.generation
	c.mu.Unlock()

	data, err := c.send(ctx, req.attach(token))
	return data, generation, err
}

func (c *Coordinator) recover(ctx context.Context, req Request, sentGeneration uint64) (json.RawMessage, error) {
	c.mu.Lock()
	switch {
	case c.refreshing:
		rec := &pendingRecord{req: req, ctx: ctx, done: make(chan result, 1)}
		c.pending = append(c.pending, rec)
		c.mu.Unlock()
		c.observer.Queued(req)
		res := rec.wait()
		return res.data, res.err

	case c.generation != sentGeneration:
		// The credential changed after this request went out; the refresh it
		// needs already happened.
		c.mu.Unlock()
		c.observer.Replayed(req)
		data, _, err := c.dispatch(ctx, req)
		if err != nil {
			c.observer.ReplayFailed(req, err)
		}
		return data, err
	}
	c.refreshing = true
	c.mu.Unlock()

	c.observer.RefreshStarted(req)
	token, queue, err := c.lead(ctx)
	if err != nil {
		return nil, err
	}

	c.observer.Replayed(req)
	first := c.replay(ctx, req)
	c.drain(queue, token)

	res := (&pendingRecord{ctx: ctx, done: first}).wait()
	return res.data, res.err
}

// lead runs the shared refresh call and settles the coordinator state. On
// failure every parked record has already been failed when lead returns.
func (c *Coordinator) lead(ctx context.Context) (string, []*pendingRecord, error) {
	refreshCtx := context.WithoutCancel(ctx)
	if c.config.RefreshTimeout > 0 {
		var cancel context.CancelFunc
		refreshCtx, cancel = context.WithTimeout(refreshCtx, c.config.RefreshTimeout)
		defer cancel()
	}

	start := time.Now()
	token, err := c.refresh(refreshCtx)
	if err == nil && token == "" {
		err = ErrMissingAccessToken
	}
	elapsed := time.Since(start)

	c.mu.Lock()
	queue := c.pending
	c.pending = nil
	c.refreshing = false
	if err != nil {
		c.token = ""
	} else {
		c.token = token
	}
	c.generation++
	c.mu.Unlock()

	c.observer.RefreshSettled(err, elapsed)

	if err != nil {
		failure := &RefreshError{Err: err}
		for _, rec := range queue {
			rec.done <- result{err: failure}
		}
		return "", nil, failure
	}
	return token, queue, nil
}

// drain dispatches parked records in enqueue order.
func (c *Coordinator) drain(queue []*pendingRecord, token string) {
	for _, rec := range queue {
		if rec.join {
			rec.done <- result{token: token}
			continue
		}
		if err := rec.ctx.Err(); err != nil {
			rec.done <- result{err: err}
			continue
		}
		c.observer.Replayed(rec.req)
		done := c.replay(rec.ctx, rec.req)
		go func(rec *pendingRecord, done <-chan result) {
			rec.done <- <-done
		}(rec, done)
	}
}

// replay starts one replay exchange with the credential held at this moment,
// which may differ from the refresh result if it was set or cleared since.
// The credential is attached before the goroutine starts so dispatch order
// follows call order.
func (c *Coordinator) replay(ctx context.Context, req Request) chan result {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	out := req.attach(token)
	done := make(chan result, 1)
	go func() {
		data, err := c.send(ctx, out)
		if err != nil {
			c.observer.ReplayFailed(req, err)
		}
		done <- result{data: data, err: err}
	}()
	return done
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = "/" + strings.Trim(path, "/")
	return path
}
