package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goAuthClient/envelope"
)

const defaultMaxBodyBytes int64 = 4 << 20

// TokenObserver receives access tokens found in successful payloads.
type TokenObserver func(token string)

// Config controls a [Transport].
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	Headers      http.Header
	UserAgent    string
	MaxBodyBytes int64
}

// Request describes one outgoing exchange.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   any
}

// Transport issues requests and unwraps response envelopes.
type Transport struct {
	base    *url.URL
	client  *http.Client
	config  Config
	onToken TokenObserver
}

// New creates a Transport. A nil client uses http.DefaultClient; a nil observer
// disables token capture.
func New(cfg Config, client *http.Client, onToken TokenObserver) (*Transport, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.New("base url must be http or https")
	}
	if base.Host == "" {
		return nil, errors.New("base url must include a host")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	return &Transport{
		base:    base,
		client:  client,
		config:  cfg,
		onToken: onToken,
	}, nil
}

// Send performs req and returns the unwrapped envelope data.
func (t *Transport) Send(ctx context.Context, req Request) (json.RawMessage, error) {
	if t.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Timeout)
		defer cancel()
	}

	httpReq, err := t.newHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Method: httpReq.Method, Path: req.Path, Err: err}
	}
	defer resp.Body.Close()

	env, err := envelope.Decode(io.LimitReader(resp.Body, t.config.MaxBodyBytes))
	if err != nil {
		return nil, &APIError{
			Message:    DefaultErrorMessage,
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}

	if !env.OK() || resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := env.Error
		if message == "" {
			message = DefaultErrorMessage
		}
		return nil, &APIError{
			Message:    message,
			StatusCode: resp.StatusCode,
			Code:       env.Code,
		}
	}

	if t.onToken != nil {
		if token := AccessToken(env.Data); token != "" {
			t.onToken(token)
		}
	}

	return env.Data, nil
}

// URL resolves path against the base URL.
func (t *Transport) URL(path string) (*url.URL, error) {
	rel, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", path, err)
	}
	if rel.IsAbs() || rel.Host != "" {
		return nil, fmt.Errorf("request path %q must be relative to the base url", path)
	}

	u := t.base.JoinPath(rel.Path)
	query := t.base.Query()
	for k, vs := range rel.Query() {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	u.RawQuery = query.Encode()
	return u, nil
}

func (t *Transport) newHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	u, err := t.URL(req.Path)
	if err != nil {
		return nil, err
	}
	if len(req.Query) > 0 {
		query := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				query.Add(k, v)
			}
		}
		u.RawQuery = query.Encode()
	}

	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if t.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", t.config.UserAgent)
	}
	for k, vs := range t.config.Headers {
		httpReq.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	for k, vs := range req.Header {
		httpReq.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}

	return httpReq, nil
}

func encodeBody(body any) (io.Reader, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return bytes.NewReader(v), nil
	case []byte:
		return bytes.NewReader(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(raw), nil
	}
}

// AccessToken returns the top-level "access_token" string of an object
// payload, or "" when there is none.
func AccessToken(data json.RawMessage) string {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ""
	}
	var payload struct {
		AccessToken any `json:"access_token"`
	}
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return ""
	}
	token, _ := payload.AccessToken.(string)
	return token
}
