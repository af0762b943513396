package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	goAuthClient "github.com/MrEthical07/goAuthClient"
	"github.com/MrEthical07/goAuthClient/authserver"
	"github.com/MrEthical07/goAuthClient/envelope"
	"github.com/MrEthical07/goAuthClient/password"
)

type stack struct {
	server     *authserver.Server
	url        string
	mu         sync.Mutex
	challenges map[string]string
}

func (s *stack) challenge(kind, email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challenges[kind+":"+email]
}

func newStack(t *testing.T, mutate func(*authserver.Options)) *stack {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := &stack{challenges: make(map[string]string)}
	opts := authserver.Options{
		Redis:    rdb,
		Password: password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32, MinBytes: 8},
		OnChallenge: func(kind, email, token string) {
			st.mu.Lock()
			st.challenges[kind+":"+email] = token
			st.mu.Unlock()
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	srv, err := authserver.New(opts)
	require.NoError(t, err)
	st.server = srv

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	st.url = ts.URL
	return st
}

func newService(t *testing.T, baseURL string, hc *http.Client, mutate func(*goAuthClient.Config)) (*Service, *goAuthClient.Client) {
	t.Helper()
	cfg := goAuthClient.DefaultConfig()
	cfg.Transport.BaseURL = baseURL
	cfg.Metrics.Enabled = true
	if mutate != nil {
		mutate(&cfg)
	}
	b := goAuthClient.New().WithConfig(cfg)
	if hc != nil {
		b = b.WithHTTPClient(hc)
	}
	c, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return NewService(c), c
}

func register(t *testing.T, svc *Service) *AuthResponse {
	t.Helper()
	resp, err := svc.Register(context.Background(), RegisterRequest{Email: "ada@example.com", Password: "correct horse", FirstName: "Ada"})
	require.NoError(t, err)
	return resp
}

func TestRegisterInstallsCredential(t *testing.T) {
	st := newStack(t, nil)
	svc, c := newService(t, st.url, nil, func(cfg *goAuthClient.Config) { cfg.CaptureAccessTokens = false })

	resp := register(t, svc)
	token, ok := c.AccessToken()
	require.True(t, ok)
	require.Equal(t, resp.AccessToken, token)
	require.True(t, resp.ExpiresAt.Time().After(time.Now()))

	u, ok := svc.CurrentUser()
	require.True(t, ok)
	require.Equal(t, "Ada", u.FirstName)

	me, err := svc.Me(context.Background())
	require.NoError(t, err)
	require.Equal(t, resp.User.ID, me.ID)
}

func TestLoginAfterRegister(t *testing.T) {
	st := newStack(t, nil)
	svc, _ := newService(t, st.url, nil, nil)
	register(t, svc)

	other, c := newService(t, st.url, nil, nil)
	_, err := other.Login(context.Background(), LoginRequest{Email: "ada@example.com", Password: "nope nope"})
	require.True(t, goAuthClient.IsStatus(err, http.StatusUnauthorized, authserver.ReasonInvalidCredentials), "got %v", err)
	_, ok := c.AccessToken()
	require.False(t, ok)

	resp, err := other.Login(context.Background(), LoginRequest{Email: "ada@example.com", Password: "correct horse"})
	require.NoError(t, err)
	token, _ := c.AccessToken()
	require.Equal(t, resp.AccessToken, token)
}

func TestStaleCredentialRefreshesOnce(t *testing.T) {
	st := newStack(t, nil)
	svc, c := newService(t, st.url, nil, nil)
	register(t, svc)
	c.SetAccessToken("stale")

	const n = 12
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Me(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.EqualValues(t, 1, st.server.RefreshCount())
	token, _ := c.AccessToken()
	require.NotEqual(t, "stale", token)
	require.EqualValues(t, 1, c.MetricsSnapshot().Counters[goAuthClient.MetricRefreshSuccess])
}

func TestLogoutClearsCredential(t *testing.T) {
	st := newStack(t, nil)
	svc, c := newService(t, st.url, nil, nil)
	register(t, svc)

	require.NoError(t, svc.Logout(context.Background()))
	_, ok := c.AccessToken()
	require.False(t, ok)
	_, ok = svc.CurrentUser()
	require.False(t, ok)

	_, err := svc.Me(context.Background())
	require.True(t, goAuthClient.IsStatus(err, http.StatusUnauthorized, "missing token"), "got %v", err)
	require.Zero(t, st.server.RefreshCount())

	// The refresh cookie is gone, so an explicit restore fails.
	_, err = svc.Refresh(context.Background())
	require.ErrorIs(t, err, goAuthClient.ErrRefreshFailed)
}

func TestRevokedSessionIsNotRefreshed(t *testing.T) {
	st := newStack(t, nil)
	svc, _ := newService(t, st.url, nil, nil)
	register(t, svc)

	ctx := context.Background()
	require.NoError(t, svc.ForgotPassword(ctx, ForgotPasswordRequest{Email: "ada@example.com"}))
	token := st.challenge(authserver.ChallengeReset, "ada@example.com")
	require.NotEmpty(t, token)
	require.NoError(t, svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, Password: "battery staple"}))

	_, err := svc.Me(ctx)
	require.True(t, goAuthClient.IsStatus(err, http.StatusUnauthorized, "session revoked"), "got %v", err)
	require.Zero(t, st.server.RefreshCount())

	_, err = svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "battery staple"})
	require.NoError(t, err)
	_, err = svc.Me(ctx)
	require.NoError(t, err)
}

func TestVerifyEmail(t *testing.T) {
	st := newStack(t, nil)
	svc, _ := newService(t, st.url, nil, nil)
	register(t, svc)

	token := st.challenge(authserver.ChallengeVerify, "ada@example.com")
	require.NoError(t, svc.VerifyEmail(context.Background(), VerifyEmailRequest{Token: token}))

	err := svc.VerifyEmail(context.Background(), VerifyEmailRequest{Token: token})
	require.True(t, goAuthClient.IsStatus(err, http.StatusBadRequest, authserver.ReasonInvalidVerifyToken), "got %v", err)
}

func TestRefreshRestoresSessionFromCookie(t *testing.T) {
	st := newStack(t, nil)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	shared := &http.Client{Jar: jar}

	first, _ := newService(t, st.url, shared, nil)
	resp := register(t, first)

	// A second client sharing the cookie jar starts without a credential.
	restored, c := newService(t, st.url, shared, nil)
	token, err := restored.Refresh(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, token)
	current, _ := c.AccessToken()
	require.Equal(t, token, current)

	me, err := restored.Me(context.Background())
	require.NoError(t, err)
	require.Equal(t, resp.User.ID, me.ID)
}

func TestGoogleAuth(t *testing.T) {
	verifier := authserver.GoogleVerifierFunc(func(_ context.Context, idToken string) (*authserver.GoogleIdentity, error) {
		if idToken != "good" {
			return nil, errors.New("rejected")
		}
		return &authserver.GoogleIdentity{Subject: "g-1", Email: "grace@example.com", EmailVerified: true}, nil
	})
	st := newStack(t, func(o *authserver.Options) { o.GoogleVerifier = verifier })
	svc, c := newService(t, st.url, nil, nil)

	_, err := svc.GoogleAuth(context.Background(), GoogleAuthRequest{})
	require.ErrorIs(t, err, goAuthClient.ErrInvalidRequest)

	resp, err := svc.GoogleAuth(context.Background(), GoogleAuthRequest{IDToken: "good"})
	require.NoError(t, err)
	require.Equal(t, "grace@example.com", resp.User.Email)
	token, _ := c.AccessToken()
	require.Equal(t, resp.AccessToken, token)
}

func TestInvalidAuthResponse(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{name: "missing token", data: map[string]any{"token_type": "Bearer", "user": map[string]any{"id": "7d444840-9dc0-11d1-b245-5ffdce74fad2", "email": "a@example.com"}}},
		{name: "wrong type", data: map[string]any{"access_token": "t", "token_type": "MAC", "user": map[string]any{"id": "7d444840-9dc0-11d1-b245-5ffdce74fad2", "email": "a@example.com"}}},
		{name: "bad uuid", data: map[string]any{"access_token": "t", "token_type": "Bearer", "user": map[string]any{"id": "42", "email": "a@example.com"}}},
		{name: "no user", data: map[string]any{"access_token": "t", "token_type": "Bearer"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				envelope.WriteOK(w, http.StatusOK, tt.data)
			}))
			defer ts.Close()

			for _, capture := range []bool{true, false} {
				svc, c := newService(t, ts.URL, nil, func(cfg *goAuthClient.Config) { cfg.CaptureAccessTokens = capture })
				_, err := svc.Login(context.Background(), LoginRequest{Email: "a@example.com", Password: "pw"})
				require.ErrorIs(t, err, goAuthClient.ErrInvalidAuthResponse)
				_, ok := c.AccessToken()
				require.False(t, ok, "capture=%v", capture)
				_, ok = svc.CurrentUser()
				require.False(t, ok)

				c.SetAccessToken("prior")
				_, err = svc.Register(context.Background(), RegisterRequest{Email: "a@example.com", Password: "password1"})
				require.ErrorIs(t, err, goAuthClient.ErrInvalidAuthResponse)
				token, ok := c.AccessToken()
				require.True(t, ok)
				require.Equal(t, "prior", token, "capture=%v", capture)
			}
		})
	}
}

func TestRequestValidation(t *testing.T) {
	svc, _ := newService(t, "http://127.0.0.1:1", nil, nil)
	_, err := svc.Register(context.Background(), RegisterRequest{Email: "a@example.com"})
	require.ErrorIs(t, err, goAuthClient.ErrInvalidRequest)
	_, err = svc.Login(context.Background(), LoginRequest{Password: "x"})
	require.ErrorIs(t, err, goAuthClient.ErrInvalidRequest)
}

func TestAuthResponseAcceptsOffsetlessTimes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","code":200,"time":"2024-05-01T10:00:00","data":{` +
			`"access_token":"t1","token_type":"Bearer","expires_at":"2024-05-01T10:15:00",` +
			`"user":{"id":"7d444840-9dc0-11d1-b245-5ffdce74fad2","email":"a@example.com","created_at":"2024-05-01 09:00:00"}}}`))
	}))
	defer ts.Close()

	svc, c := newService(t, ts.URL, nil, nil)
	resp, err := svc.Login(context.Background(), LoginRequest{Email: "a@example.com", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC), resp.ExpiresAt.Time())
	require.Equal(t, "2024-05-01 09:00:00", resp.User.CreatedAt.String())
	token, _ := c.AccessToken()
	require.Equal(t, "t1", token)
}
