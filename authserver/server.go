package authserver

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/MrEthical07/goAuthClient/envelope"
	"github.com/MrEthical07/goAuthClient/internal/rate"
	"github.com/MrEthical07/goAuthClient/internal/stores"
	"github.com/MrEthical07/goAuthClient/jwt"
	"github.com/MrEthical07/goAuthClient/middleware"
	"github.com/MrEthical07/goAuthClient/password"
	"github.com/MrEthical07/goAuthClient/session"
)

// Server is the reference implementation of the auth API the client talks
// to. It is safe for concurrent use.
type Server struct {
	opts   Options
	logger *zap.Logger

	users      *stores.UserStore
	challenges *stores.ChallengeStore
	sessions   *session.Store
	limiter    *rate.Limiter
	tokens     *jwt.Manager
	hasher     *password.Hasher

	router       *mux.Router
	refreshCount atomic.Int64
}

var _ middleware.Validator = (*Server)(nil)

// New validates opts and wires the stores, token manager and routes.
func New(opts Options) (*Server, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	key := opts.SigningKey
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("authserver: signing key: %w", err)
		}
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     opts.AccessTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    key,
		Issuer:        opts.Issuer,
		Clock:         opts.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("authserver: %w", err)
	}

	hasher, err := password.NewHasher(opts.Password)
	if err != nil {
		return nil, fmt.Errorf("authserver: %w", err)
	}

	s := &Server{
		opts:       opts,
		logger:     opts.Logger.Named("authserver"),
		users:      stores.NewUserStore(opts.Redis, opts.Prefix+":usr", opts.Clock),
		challenges: stores.NewChallengeStore(opts.Redis, opts.Prefix+":ch", opts.Clock),
		sessions:   session.NewStore(opts.Redis, opts.Prefix+":sess", opts.Clock),
		limiter: rate.New(opts.Redis, rate.Config{
			Prefix:                  opts.Prefix + ":rl",
			EnableIPThrottle:        opts.EnableIPThrottle,
			EnableRefreshThrottle:   opts.MaxRefreshAttempts > 0,
			MaxLoginAttempts:        opts.MaxLoginAttempts,
			LoginCooldownDuration:   opts.LoginCooldown,
			MaxRefreshAttempts:      opts.MaxRefreshAttempts,
			RefreshCooldownDuration: opts.RefreshWindow,
		}),
		tokens: tokens,
		hasher: hasher,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		envelope.WriteError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		envelope.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/google", s.handleGoogle).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/auth/forgot-password", s.handleForgotPassword).Methods(http.MethodPost)
	r.HandleFunc("/auth/reset-password", s.handleResetPassword).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify-email", s.handleVerifyEmail).Methods(http.MethodPost)
	r.Handle("/auth/me", s.Protect(http.HandlerFunc(s.handleMe))).Methods(http.MethodGet)
	return r
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the router so callers can mount extra routes, usually
// wrapped with [Server.Protect].
func (s *Server) Router() *mux.Router {
	return s.router
}

// Protect wraps h with a strict guard: the access token must verify and its
// session must still exist.
func (s *Server) Protect(h http.Handler) http.Handler {
	return middleware.RequireStrict(s)(h)
}

// RefreshCount returns how many requests reached the refresh endpoint.
func (s *Server) RefreshCount() int64 {
	return s.refreshCount.Load()
}

// Validate implements [middleware.Validator].
func (s *Server) Validate(ctx context.Context, token string, mode middleware.Mode) (*middleware.Principal, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	if mode == middleware.ModeStrict {
		ok, err := s.sessions.Exists(ctx, claims.SID)
		if err != nil {
			s.logger.Warn("session lookup failed", zap.Error(err))
			return nil, err
		}
		if !ok {
			return nil, middleware.ErrSessionRevoked
		}
	}
	return &middleware.Principal{
		UserID:    claims.UID,
		SessionID: claims.SID,
		Email:     claims.Email,
	}, nil
}
