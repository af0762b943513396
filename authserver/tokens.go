package authserver

import (
	"context"
	"net/http"
	"time"

	"github.com/MrEthical07/goAuthClient/internal"
	"github.com/MrEthical07/goAuthClient/jwt"
	"github.com/MrEthical07/goAuthClient/internal/stores"
	"github.com/MrEthical07/goAuthClient/session"
)

type userResponse struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type authResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        userResponse `json:"user"`
}

func newUserResponse(u *stores.User) userResponse {
	return userResponse{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// startSession creates a refresh session for u, sets the refresh cookie and
// returns the auth response body.
func (s *Server) startSession(ctx context.Context, w http.ResponseWriter, u *stores.User) (*authResponse, error) {
	id, err := internal.NewID()
	if err != nil {
		return nil, err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return nil, err
	}

	now := s.opts.Clock()
	sess := &session.Session{
		SessionID:   id.String(),
		UserID:      u.ID,
		RefreshHash: secret.Hash(),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(s.opts.RefreshTTL).Unix(),
	}
	if err := s.sessions.Save(ctx, sess, s.opts.RefreshTTL); err != nil {
		return nil, err
	}

	s.setRefreshCookie(w, internal.EncodeToken(id, secret))
	return s.issueAccess(u, sess.SessionID)
}

func (s *Server) issueAccess(u *stores.User, sessionID string) (*authResponse, error) {
	token, expiresAt, err := s.tokens.Sign(jwt.Identity{UserID: u.ID, SessionID: sessionID, Email: u.Email})
	if err != nil {
		return nil, err
	}
	return &authResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt.UTC(),
		User:        newUserResponse(u),
	}, nil
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    value,
		Path:     s.opts.CookiePath,
		MaxAge:   int(s.opts.RefreshTTL / time.Second),
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    "",
		Path:     s.opts.CookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// newChallenge stores a single-use challenge for userID and returns the
// token to hand to the user.
func (s *Server) newChallenge(ctx context.Context, kind stores.ChallengeKind, userID string) (string, error) {
	id, token, hash, err := internal.NewToken()
	if err != nil {
		return "", err
	}
	record := &stores.ChallengeRecord{
		UserID:     userID,
		SecretHash: hash,
		ExpiresAt:  s.opts.Clock().Add(s.opts.ChallengeTTL).Unix(),
	}
	if err := s.challenges.Save(ctx, kind, id.String(), record, s.opts.ChallengeTTL); err != nil {
		return "", err
	}
	return token, nil
}

func (s *Server) consumeChallenge(ctx context.Context, kind stores.ChallengeKind, token string) (*stores.ChallengeRecord, error) {
	id, secret, err := internal.DecodeToken(token)
	if err != nil {
		return nil, stores.ErrChallengeNotFound
	}
	return s.challenges.Consume(ctx, kind, id.String(), secret.Hash(), s.opts.MaxChallengeAttempts)
}

func (s *Server) notify(kind, email, token string) {
	if s.opts.OnChallenge != nil {
		s.opts.OnChallenge(kind, email, token)
	}
}
