package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	goAuthClient "github.com/MrEthical07/goAuthClient"
)

// Endpoint paths.
const (
	PathRegister       = "/auth/register"
	PathLogin          = "/auth/login"
	PathGoogle         = "/auth/google"
	PathLogout         = "/auth/logout"
	PathForgotPassword = "/auth/forgot-password"
	PathResetPassword  = "/auth/reset-password"
	PathVerifyEmail    = "/auth/verify-email"
	PathMe             = "/auth/me"
)

// Service calls the auth endpoints through a shared client and keeps the
// client's credential in step with the session.
type Service struct {
	client *goAuthClient.Client

	mu   sync.RWMutex
	user *User
}

// NewService returns a Service bound to c.
func NewService(c *goAuthClient.Client) *Service {
	return &Service{client: c}
}

// Register creates an account and signs in.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", goAuthClient.ErrInvalidRequest)
	}
	return s.authenticate(ctx, PathRegister, req)
}

// Login signs in with email and password.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", goAuthClient.ErrInvalidRequest)
	}
	return s.authenticate(ctx, PathLogin, req)
}

// GoogleAuth signs in with a Google ID token.
func (s *Service) GoogleAuth(ctx context.Context, req GoogleAuthRequest) (*AuthResponse, error) {
	if req.IDToken == "" {
		return nil, fmt.Errorf("%w: id token is required", goAuthClient.ErrInvalidRequest)
	}
	return s.authenticate(ctx, PathGoogle, req)
}

// Logout ends the server session. The credential and cached user are
// dropped only when the server confirms.
func (s *Service) Logout(ctx context.Context) error {
	if _, err := s.client.Post(ctx, PathLogout, nil); err != nil {
		return err
	}
	s.client.ClearAccessToken()
	s.setUser(nil)
	return nil
}

func (s *Service) ForgotPassword(ctx context.Context, req ForgotPasswordRequest) error {
	_, err := s.client.Post(ctx, PathForgotPassword, req)
	return err
}

func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	_, err := s.client.Post(ctx, PathResetPassword, req)
	return err
}

func (s *Service) VerifyEmail(ctx context.Context, req VerifyEmailRequest) error {
	_, err := s.client.Post(ctx, PathVerifyEmail, req)
	return err
}

// Me fetches the signed-in user. An expired credential is refreshed
// transparently by the client.
func (s *Service) Me(ctx context.Context) (*User, error) {
	u, err := goAuthClient.Call[User](ctx, s.client, goAuthClient.Request{Method: http.MethodGet, Path: PathMe})
	if err != nil {
		return nil, err
	}
	s.setUser(&u)
	return &u, nil
}

// Refresh restores or renews the credential from the refresh cookie.
func (s *Service) Refresh(ctx context.Context) (string, error) {
	return s.client.Refresh(ctx)
}

// CurrentUser returns the user from the last successful sign-in or Me call.
func (s *Service) CurrentUser() (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil, false
	}
	u := *s.user
	return &u, true
}

func (s *Service) setUser(u *User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

func (s *Service) authenticate(ctx context.Context, path string, body any) (*AuthResponse, error) {
	prev, hadPrev := s.client.AccessToken()
	data, err := s.client.Post(ctx, path, body)
	if err != nil {
		return nil, err
	}

	var resp AuthResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		s.discardCaptured(prev, hadPrev)
		return nil, fmt.Errorf("%w: %v", goAuthClient.ErrInvalidAuthResponse, err)
	}
	if err := validateAuthResponse(&resp); err != nil {
		s.discardCaptured(prev, hadPrev)
		return nil, err
	}

	s.client.SetAccessToken(resp.AccessToken)
	s.setUser(&resp.User)
	return &resp, nil
}

// discardCaptured undoes a credential the client took from a rejected auth
// response, putting back whatever was installed before the call.
func (s *Service) discardCaptured(prev string, hadPrev bool) {
	cur, ok := s.client.AccessToken()
	if ok == hadPrev && cur == prev {
		return
	}
	if hadPrev {
		s.client.SetAccessToken(prev)
		return
	}
	s.client.ClearAccessToken()
}

func validateAuthResponse(resp *AuthResponse) error {
	switch {
	case resp.AccessToken == "":
		return fmt.Errorf("%w: missing access token", goAuthClient.ErrInvalidAuthResponse)
	case resp.TokenType != "Bearer":
		return fmt.Errorf("%w: token type %q", goAuthClient.ErrInvalidAuthResponse, resp.TokenType)
	case resp.User.ID == uuid.Nil:
		return fmt.Errorf("%w: missing user id", goAuthClient.ErrInvalidAuthResponse)
	case !strings.Contains(resp.User.Email, "@"):
		return fmt.Errorf("%w: invalid user email", goAuthClient.ErrInvalidAuthResponse)
	}
	return nil
}
