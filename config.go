package goAuthClient

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goAuthClient/internal/refresh"
)

// Config is the complete client configuration. Obtain a baseline from
// [DefaultConfig], adjust it, and pass it to [Builder.WithConfig].
type Config struct {
	Transport TransportConfig
	Refresh   RefreshConfig
	Audit     AuditConfig
	Metrics   MetricsConfig

	// CaptureAccessTokens stores any top-level access_token found in a
	// successful response payload as the current credential.
	CaptureAccessTokens bool
}

// TransportConfig controls the HTTP exchange.
type TransportConfig struct {
	BaseURL      string
	Timeout      time.Duration
	UserAgent    string
	Headers      http.Header
	MaxBodyBytes int64
	// RequestIDHeader names the header that carries the per-request ID. Empty
	// disables request IDs.
	RequestIDHeader string
}

// RefreshConfig controls the refresh trigger and the refresh call.
type RefreshConfig struct {
	Path               string
	TokenInvalidReason string
	Timeout            time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the baseline configuration. BaseURL must still be set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Transport: TransportConfig{
			Timeout:         30 * time.Second,
			UserAgent:       "goAuthClient/1",
			MaxBodyBytes:    4 << 20,
			RequestIDHeader: "X-Request-ID",
		},
		Refresh: RefreshConfig{
			Path:               refresh.DefaultRefreshPath,
			TokenInvalidReason: refresh.DefaultTokenInvalidReason,
			Timeout:            15 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		CaptureAccessTokens: true,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Transport.Headers = cfg.Transport.Headers.Clone()
	return out
}

// Validate checks the configuration for values Build cannot work with.
func (c *Config) Validate() error {
	// Transport
	if strings.TrimSpace(c.Transport.BaseURL) == "" {
		return errors.New("Transport BaseURL must be set")
	}
	u, err := url.Parse(c.Transport.BaseURL)
	if err != nil {
		return errors.New("Transport BaseURL is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("Transport BaseURL scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("Transport BaseURL must include a host")
	}
	if c.Transport.Timeout < 0 {
		return errors.New("Transport Timeout must be >= 0")
	}
	if c.Transport.MaxBodyBytes <= 0 {
		return errors.New("Transport MaxBodyBytes must be > 0")
	}

	// Refresh
	if strings.TrimSpace(c.Refresh.Path) == "" {
		return errors.New("Refresh Path must be set")
	}
	if strings.Contains(c.Refresh.Path, "://") {
		return errors.New("Refresh Path must be relative to BaseURL")
	}
	if strings.TrimSpace(c.Refresh.TokenInvalidReason) == "" {
		return errors.New("Refresh TokenInvalidReason must be set")
	}
	if c.Refresh.Timeout <= 0 {
		return errors.New("Refresh Timeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
