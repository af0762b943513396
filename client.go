package goAuthClient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goAuthClient/internal/refresh"
	"github.com/MrEthical07/goAuthClient/internal/transport"
)

// Client is an authenticated API client. It attaches the current bearer
// credential to each request and, when the server rejects it as invalid,
// refreshes it once for all concurrently failing requests and replays them.
//
// A Client is safe for concurrent use.
type Client struct {
	config      Config
	logger      *zap.Logger
	http        *http.Client
	api         *transport.Transport
	raw         *transport.Transport
	coordinator *refresh.Coordinator
	metrics     *Metrics
	audit       *auditDispatcher
	closed      atomic.Bool
}

// Request is one logical API call. Path is relative to the configured base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   any
}

// RequestOption adjusts a Request built by the verb helpers.
type RequestOption func(*Request)

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = http.Header{}
		}
		r.Header.Set(key, value)
	}
}

// WithAuthorization sends value as the Authorization header in place of the
// managed credential.
func WithAuthorization(value string) RequestOption {
	return WithHeader("Authorization", value)
}

// WithQuery adds query parameters.
func WithQuery(values url.Values) RequestOption {
	return func(r *Request) {
		if r.Query == nil {
			r.Query = url.Values{}
		}
		for k, vs := range values {
			for _, v := range vs {
				r.Query.Add(k, v)
			}
		}
	}
}

// Do sends req and returns the unwrapped response data.
//
// Failures are *APIError (the server answered), *NetworkError (it did not) or
// *RefreshError (the credential was rejected and could not be refreshed).
func (c *Client) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	if c == nil || c.closed.Load() {
		return nil, ErrClientNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" || strings.TrimSpace(req.Path) == "" {
		return nil, fmt.Errorf("%w: method and path are required", ErrInvalidRequest)
	}

	id := requestIDFor(ctx)
	header := req.Header.Clone()
	if name := c.config.Transport.RequestIDHeader; name != "" {
		if header == nil {
			header = http.Header{}
		}
		if header.Get(name) == "" {
			header.Set(name, id)
		}
	}

	start := time.Now()
	data, err := c.coordinator.Do(ctx, refresh.Request{
		ID:     id,
		Method: method,
		Path:   req.Path,
		Query:  req.Query,
		Header: header,
		Body:   req.Body,
	})
	c.metrics.Observe(MetricRequestLatency, time.Since(start))
	c.recordOutcome(err)

	return data, err
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (json.RawMessage, error) {
	return c.Do(ctx, newRequest(http.MethodGet, path, nil, opts))
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (json.RawMessage, error) {
	return c.Do(ctx, newRequest(http.MethodPost, path, body, opts))
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (json.RawMessage, error) {
	return c.Do(ctx, newRequest(http.MethodPut, path, body, opts))
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any, opts ...RequestOption) (json.RawMessage, error) {
	return c.Do(ctx, newRequest(http.MethodPatch, path, body, opts))
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (json.RawMessage, error) {
	return c.Do(ctx, newRequest(http.MethodDelete, path, nil, opts))
}

// Call sends req through c and decodes the response data into T.
func Call[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var out T
	data, err := c.Do(ctx, req)
	if err != nil {
		return out, err
	}
	if len(data) == 0 || string(data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s %s response: %w", req.Method, req.Path, err)
	}
	return out, nil
}

func newRequest(method, path string, body any, opts []RequestOption) Request {
	req := Request{Method: method, Path: path, Body: body}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// AccessToken returns the current credential and whether one is set.
func (c *Client) AccessToken() (string, bool) {
	if c == nil {
		return "", false
	}
	return c.coordinator.Token()
}

// SetAccessToken replaces the credential. An empty token clears it.
func (c *Client) SetAccessToken(token string) {
	if c == nil {
		return
	}
	if token == "" {
		c.ClearAccessToken()
		return
	}
	c.coordinator.SetToken(token)
	c.emitAudit(AuditEvent{Kind: AuditCredentialSet, Source: SourceExplicit, Success: true})
}

// ClearAccessToken removes the credential. Later requests go out without an
// Authorization header.
func (c *Client) ClearAccessToken() {
	if c == nil {
		return
	}
	c.coordinator.SetToken("")
	c.metrics.Inc(MetricCredentialCleared)
	c.emitAudit(AuditEvent{Kind: AuditCredentialCleared, Source: SourceExplicit, Success: true})
}

// Refresh obtains a new credential from the refresh endpoint, joining a
// refresh that is already in flight. It is used to restore a session from the
// refresh cookie alone.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	if c == nil || c.closed.Load() {
		return "", ErrClientNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return c.coordinator.Refresh(ctx)
}

// Refreshing reports whether a refresh call is outstanding.
func (c *Client) Refreshing() bool {
	return c != nil && c.coordinator.Refreshing()
}

// Close stops the audit dispatcher after flushing it. Requests issued after
// Close fail with ErrClientNotReady.
func (c *Client) Close() {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.audit.Close()
	c.http.CloseIdleConnections()
}

// MetricsSnapshot copies the current client metrics.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	if c == nil {
		return NewMetrics(MetricsConfig{}).Snapshot()
	}
	return c.metrics.Snapshot()
}

// AuditDropped returns the number of audit events dropped on a full buffer.
func (c *Client) AuditDropped() uint64 {
	if c == nil {
		return 0
	}
	return c.audit.Dropped()
}

// HTTPClient returns the HTTP client shared by the API and refresh calls.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

func (c *Client) refreshCall(ctx context.Context) (string, error) {
	header := http.Header{}
	if name := c.config.Transport.RequestIDHeader; name != "" {
		header.Set(name, requestIDFor(ctx))
	}
	data, err := c.raw.Send(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   c.config.Refresh.Path,
		Header: header,
	})
	if err != nil {
		return "", err
	}
	return transport.AccessToken(data), nil
}

func (c *Client) captureAccessToken(token string) {
	c.coordinator.SetToken(token)
	c.metrics.Inc(MetricCredentialCaptured)
	c.emitAudit(AuditEvent{Kind: AuditCredentialSet, Source: SourceResponse, Success: true})
}

func (c *Client) recordOutcome(err error) {
	if err == nil {
		c.metrics.Inc(MetricRequestSuccess)
		return
	}
	var (
		netErr *NetworkError
		apiErr *APIError
	)
	switch {
	case errors.As(err, &netErr):
		c.metrics.Inc(MetricRequestNetworkFailure)
	case errors.As(err, &apiErr):
		c.metrics.Inc(MetricRequestAPIFailure)
	}
}

func (c *Client) emitAudit(event AuditEvent) {
	if c.audit == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	c.audit.Emit(context.Background(), event)
}
