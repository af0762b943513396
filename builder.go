package goAuthClient

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/MrEthical07/goAuthClient/internal/refresh"
	"github.com/MrEthical07/goAuthClient/internal/transport"
)

// Builder assembles a [Client]. Configure it during initialization and call
// Build once.
type Builder struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
	auditSink  AuditSink

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBaseURL sets Transport.BaseURL.
func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.config.Transport.BaseURL = baseURL
	return b
}

// WithHTTPClient sets the underlying HTTP client. The client is copied; when
// it has no cookie jar the copy gets one, shared by the API and refresh
// transports so the refresh cookie set at login reaches the refresh endpoint.
func (b *Builder) WithHTTPClient(hc *http.Client) *Builder {
	b.httpClient = hc
	return b
}

// WithLogger sets the structured logger. The default discards everything.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit sink and enables the audit dispatcher.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	if sink != nil {
		b.config.Audit.Enabled = true
	}
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles request and refresh latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Client. A Builder can
// only be built once.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("goauthclient")

	hc, err := prepareHTTPClient(b.httpClient)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:  cloneConfig(cfg),
		logger:  logger,
		http:    hc,
		metrics: NewMetrics(cfg.Metrics),
	}
	c.audit = newAuditDispatcher(cfg.Audit, b.auditSink, logger)

	tcfg := transport.Config{
		BaseURL:      cfg.Transport.BaseURL,
		Timeout:      cfg.Transport.Timeout,
		Headers:      cfg.Transport.Headers.Clone(),
		UserAgent:    cfg.Transport.UserAgent,
		MaxBodyBytes: cfg.Transport.MaxBodyBytes,
	}

	var onToken transport.TokenObserver
	if cfg.CaptureAccessTokens {
		onToken = c.captureAccessToken
	}
	api, err := transport.New(tcfg, hc, onToken)
	if err != nil {
		return nil, fmt.Errorf("api transport: %w", err)
	}
	// The refresh call goes through a transport with no credential and no
	// token observer; the coordinator stores its result.
	raw, err := transport.New(tcfg, hc, nil)
	if err != nil {
		return nil, fmt.Errorf("refresh transport: %w", err)
	}
	c.api = api
	c.raw = raw

	c.coordinator = refresh.New(refresh.Config{
		RefreshPath:        cfg.Refresh.Path,
		TokenInvalidReason: cfg.Refresh.TokenInvalidReason,
		RefreshTimeout:     cfg.Refresh.Timeout,
	}, api.Send, c.refreshCall, &clientObserver{client: c})

	b.built = true

	return c, nil
}

func prepareHTTPClient(hc *http.Client) (*http.Client, error) {
	var out http.Client
	if hc != nil {
		out = *hc
	}
	if out.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		out.Jar = jar
	}
	return &out, nil
}
