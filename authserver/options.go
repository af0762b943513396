package authserver

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/goAuthClient/password"
)

// Challenge kinds passed to [Options.OnChallenge].
const (
	ChallengeReset  = "reset"
	ChallengeVerify = "verify"
)

// GoogleIdentity is what a [GoogleVerifier] extracts from an ID token.
type GoogleIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
}

// GoogleVerifier checks a Google ID token. The server ships without one;
// /auth/google answers 501 until it is set.
type GoogleVerifier interface {
	Verify(ctx context.Context, idToken string) (*GoogleIdentity, error)
}

// GoogleVerifierFunc adapts a function to [GoogleVerifier].
type GoogleVerifierFunc func(ctx context.Context, idToken string) (*GoogleIdentity, error)

func (f GoogleVerifierFunc) Verify(ctx context.Context, idToken string) (*GoogleIdentity, error) {
	return f(ctx, idToken)
}

// Options configures a [Server]. Zero values take the defaults below.
type Options struct {
	Redis  redis.UniversalClient
	Prefix string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// SigningKey is the HS256 secret. A random key is generated when empty,
	// which invalidates tokens across restarts.
	SigningKey []byte
	Issuer     string

	Password password.Config

	CookieName   string
	CookiePath   string
	CookieSecure bool

	ChallengeTTL         time.Duration
	MaxChallengeAttempts int

	MaxLoginAttempts   int
	LoginCooldown      time.Duration
	EnableIPThrottle   bool
	MaxRefreshAttempts int
	RefreshWindow      time.Duration

	// OnChallenge receives reset and verification tokens. It stands in for
	// mail delivery and must not block.
	OnChallenge    func(kind, email, token string)
	GoogleVerifier GoogleVerifier

	Logger *zap.Logger
	Clock  func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = "gac"
	}
	if o.AccessTTL == 0 {
		o.AccessTTL = 15 * time.Minute
	}
	if o.RefreshTTL == 0 {
		o.RefreshTTL = 7 * 24 * time.Hour
	}
	if o.Issuer == "" {
		o.Issuer = "goauthclient"
	}
	if o.Password == (password.Config{}) {
		o.Password = password.DefaultConfig()
	}
	if o.CookieName == "" {
		o.CookieName = "refresh_token"
	}
	if o.CookiePath == "" {
		o.CookiePath = "/auth"
	}
	if o.ChallengeTTL == 0 {
		o.ChallengeTTL = 30 * time.Minute
	}
	if o.MaxChallengeAttempts == 0 {
		o.MaxChallengeAttempts = 5
	}
	if o.MaxLoginAttempts == 0 {
		o.MaxLoginAttempts = 5
	}
	if o.LoginCooldown == 0 {
		o.LoginCooldown = 15 * time.Minute
	}
	if o.RefreshWindow == 0 {
		o.RefreshWindow = time.Minute
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

func (o Options) validate() error {
	if o.Redis == nil {
		return errors.New("authserver: redis client is required")
	}
	if o.AccessTTL < 0 || o.RefreshTTL < 0 || o.ChallengeTTL < 0 {
		return errors.New("authserver: ttls must be positive")
	}
	if o.RefreshTTL <= o.AccessTTL {
		return errors.New("authserver: refresh ttl must exceed access ttl")
	}
	if len(o.SigningKey) > 0 && len(o.SigningKey) < 32 {
		return errors.New("authserver: signing key must be at least 32 bytes")
	}
	if o.MaxRefreshAttempts < 0 || o.MaxLoginAttempts < 0 {
		return errors.New("authserver: attempt limits must not be negative")
	}
	return nil
}
