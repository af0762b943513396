package goAuthClient

import (
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goAuthClient/internal/refresh"
)

// clientObserver turns coordinator notifications into metrics, logs and audit
// events.
type clientObserver struct {
	client *Client
}

func (o *clientObserver) RefreshStarted(trigger refresh.Request) {
	c := o.client
	c.metrics.Inc(MetricRefreshTriggered)
	c.logger.Debug("refresh started",
		zap.String("request_id", trigger.ID),
		zap.String("trigger", trigger.Method+" "+trigger.Path))
}

func (o *clientObserver) RefreshSettled(err error, elapsed time.Duration) {
	c := o.client
	c.metrics.Observe(MetricRefreshLatency, elapsed)

	if err != nil {
		c.metrics.Inc(MetricRefreshFailure)
		c.metrics.Inc(MetricCredentialCleared)
		c.logger.Warn("refresh failed, credential cleared",
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		c.emitAudit(AuditEvent{Kind: AuditRefreshFailure, Error: err.Error()})
		c.emitAudit(AuditEvent{Kind: AuditCredentialCleared, Source: SourceRefreshFailure, Success: true})
		return
	}

	c.metrics.Inc(MetricRefreshSuccess)
	c.logger.Debug("refresh succeeded", zap.Duration("elapsed", elapsed))
	c.emitAudit(AuditEvent{Kind: AuditRefreshSuccess, Source: SourceRefresh, Success: true})
}

func (o *clientObserver) Queued(req refresh.Request) {
	c := o.client
	c.metrics.Inc(MetricRequestQueued)
	c.logger.Debug("request queued behind refresh",
		zap.String("request_id", req.ID),
		zap.String("method", req.Method),
		zap.String("path", req.Path))
}

func (o *clientObserver) Replayed(req refresh.Request) {
	c := o.client
	c.metrics.Inc(MetricRequestReplayed)
	c.emitAudit(AuditEvent{
		Kind:      AuditRequestReplayed,
		RequestID: req.ID,
		Method:    req.Method,
		Path:      req.Path,
		Success:   true,
	})
}

func (o *clientObserver) ReplayFailed(req refresh.Request, err error) {
	c := o.client
	c.metrics.Inc(MetricReplayFailure)
	c.logger.Warn("replay failed",
		zap.String("request_id", req.ID),
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Error(err))
	c.emitAudit(AuditEvent{
		Kind:      AuditReplayFailure,
		RequestID: req.ID,
		Method:    req.Method,
		Path:      req.Path,
		Error:     err.Error(),
	})
}
