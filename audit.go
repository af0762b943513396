package goAuthClient

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AuditKind names a credential lifecycle transition.
type AuditKind string

const (
	AuditRefreshSuccess    AuditKind = "refresh_success"
	AuditRefreshFailure    AuditKind = "refresh_failure"
	AuditCredentialSet     AuditKind = "credential_set"
	AuditCredentialCleared AuditKind = "credential_cleared"
	AuditRequestReplayed   AuditKind = "request_replayed"
	AuditReplayFailure     AuditKind = "replay_failure"
)

// Credential sources carried in AuditEvent.Source.
const (
	SourceExplicit       = "explicit"
	SourceResponse       = "response"
	SourceRefresh        = "refresh"
	SourceRefreshFailure = "refresh_failure"
)

// AuditEvent is one credential lifecycle record. It never carries a
// credential, only where one came from.
type AuditEvent struct {
	At        time.Time `json:"at"`
	Kind      AuditKind `json:"kind"`
	Source    string    `json:"source,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Method    string    `json:"method,omitempty"`
	Path      string    `json:"path,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// MarshalLogObject lets zap encode events without reflection.
func (e AuditEvent) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddTime("at", e.At)
	enc.AddBool("success", e.Success)
	if e.Source != "" {
		enc.AddString("source", e.Source)
	}
	if e.RequestID != "" {
		enc.AddString("request_id", e.RequestID)
	}
	if e.Path != "" {
		enc.AddString("method", e.Method)
		enc.AddString("path", e.Path)
	}
	if e.Error != "" {
		enc.AddString("error", e.Error)
	}
	return nil
}

// AuditSink receives events on the dispatcher goroutine, one at a time.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(ctx context.Context, event AuditEvent)

func (f AuditSinkFunc) Emit(ctx context.Context, event AuditEvent) { f(ctx, event) }

// MultiSink delivers each event to every non-nil sink in order.
func MultiSink(sinks ...AuditSink) AuditSink {
	out := make([]AuditSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return AuditSinkFunc(func(ctx context.Context, event AuditEvent) {
		for _, s := range out {
			s.Emit(ctx, event)
		}
	})
}

// ChannelSink hands events to a consumer over a buffered channel. Emit waits
// for room unless ctx ends first.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan AuditEvent, max(buffer, 1))}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent { return s.events }

// JSONSink writes newline-delimited JSON.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

func (s *JSONSink) Emit(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	_ = s.enc.Encode(event)
	s.mu.Unlock()
}

// ZapSink logs successes at info and failures at warn, with the event kind
// as the message.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) Emit(_ context.Context, event AuditEvent) {
	level := zapcore.InfoLevel
	if !event.Success {
		level = zapcore.WarnLevel
	}
	if ce := s.logger.Check(level, string(event.Kind)); ce != nil {
		ce.Write(zap.Inline(event))
	}
}
