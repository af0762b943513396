package authserver

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/goAuthClient/envelope"
	"github.com/MrEthical07/goAuthClient/internal"
	"github.com/MrEthical07/goAuthClient/internal/rate"
	"github.com/MrEthical07/goAuthClient/internal/stores"
	"github.com/MrEthical07/goAuthClient/middleware"
	"github.com/MrEthical07/goAuthClient/password"
	"github.com/MrEthical07/goAuthClient/session"
)

const maxRequestBody = 1 << 20

// Error reasons written by the handlers.
const (
	ReasonInvalidBody         = "invalid request body"
	ReasonInvalidEmail        = "invalid email"
	ReasonInvalidPassword     = "invalid password"
	ReasonEmailTaken          = "email already registered"
	ReasonInvalidCredentials  = "invalid credentials"
	ReasonTooManyAttempts     = "too many attempts"
	ReasonMissingRefreshToken = "missing refresh token"
	ReasonInvalidRefreshToken = "invalid refresh token"
	ReasonInvalidResetToken   = "invalid reset token"
	ReasonInvalidVerifyToken  = "invalid verification token"
	ReasonGoogleUnavailable   = "google sign-in not configured"
	ReasonInvalidGoogleToken  = "invalid google token"
	ReasonInternal            = "internal error"
)

type credentialsRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type googleRequest struct {
	IDToken string `json:"id_token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		envelope.WriteError(w, http.StatusBadRequest, ReasonInvalidBody)
		return false
	}
	return true
}

func validEmail(email string) bool {
	at := strings.LastIndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	envelope.WriteError(w, http.StatusInternalServerError, ReasonInternal)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	email := stores.NormalizeEmail(req.Email)
	if !validEmail(email) {
		envelope.WriteError(w, http.StatusBadRequest, ReasonInvalidEmail)
		return
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		if errors.Is(err, password.ErrPasswordLength) {
			envelope.WriteError(w, http.StatusBadRequest, ReasonInvalidPassword)
			return
		}
		s.internalError(w, "password hash failed", err)
		return
	}

	u := &stores.User{
		Email:        email,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		PasswordHash: hash,
	}
	if err := s.users.Create(r.Context(), u); err != nil {
		if errors.Is(err, stores.ErrEmailTaken) {
			envelope.WriteError(w, http.StatusConflict, ReasonEmailTaken)
			return
		}
		s.internalError(w, "user create failed", err)
		return
	}

	token, err := s.newChallenge(r.Context(), stores.ChallengeEmailVerification, u.ID)
	if err != nil {
		// Registration stands; the user can ask for a new link later.
		s.logger.Warn("verification challenge failed", zap.String("user_id", u.ID), zap.Error(err))
	} else {
		s.notify(ChallengeVerify, u.Email, token)
	}

	resp, err := s.startSession(r.Context(), w, u)
	if err != nil {
		s.internalError(w, "session start failed", err)
		return
	}
	envelope.WriteOK(w, http.StatusCreated, resp)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	email := stores.NormalizeEmail(req.Email)
	ip := clientIP(r)
	ctx := r.Context()

	if err := s.limiter.CheckLogin(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			envelope.WriteError(w, http.StatusTooManyRequests, ReasonTooManyAttempts)
			return
		}
		s.internalError(w, "login limiter failed", err)
		return
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, stores.ErrUserNotFound) {
		s.internalError(w, "user lookup failed", err)
		return
	}

	ok := false
	if u == nil || u.PasswordHash == "" {
		s.hasher.VerifyDummy(req.Password)
	} else if ok, err = s.hasher.Verify(req.Password, u.PasswordHash); err != nil {
		s.logger.Warn("stored password hash unreadable", zap.String("user_id", u.ID), zap.Error(err))
		ok = false
	}

	if !ok {
		if err := s.limiter.RecordLoginFailure(ctx, email, ip); err != nil {
			s.logger.Warn("login failure not recorded", zap.Error(err))
		}
		envelope.WriteError(w, http.StatusUnauthorized, ReasonInvalidCredentials)
		return
	}

	if err := s.limiter.ResetLogin(ctx, email); err != nil {
		s.logger.Warn("login counter reset failed", zap.Error(err))
	}
	if rehash, _ := s.hasher.NeedsRehash(u.PasswordHash); rehash {
		if hash, err := s.hasher.Hash(req.Password); err == nil {
			_ = s.users.SetPassword(ctx, u.ID, hash)
		}
	}

	resp, err := s.startSession(ctx, w, u)
	if err != nil {
		s.internalError(w, "session start failed", err)
		return
	}
	envelope.WriteOK(w, http.StatusOK, resp)
}

func (s *Server) handleGoogle(w http.ResponseWriter, r *http.Request) {
	if s.opts.GoogleVerifier == nil {
		envelope.WriteError(w, http.StatusNotImplemented, ReasonGoogleUnavailable)
		return
	}
	var req googleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()

	identity, err := s.opts.GoogleVerifier.Verify(ctx, req.IDToken)
	if err != nil || identity == nil || identity.Subject == "" || !validEmail(identity.Email) {
		envelope.WriteError(w, http.StatusUnauthorized, ReasonInvalidGoogleToken)
		return
	}

	u, err := s.users.GetByEmail(ctx, identity.Email)
	switch {
	case errors.Is(err, stores.ErrUserNotFound):
		u = &stores.User{
			Email:     identity.Email,
			FirstName: identity.FirstName,
			LastName:  identity.LastName,
			GoogleSub: identity.Subject,
			Verified:  identity.EmailVerified,
		}
		if err := s.users.Create(ctx, u); err != nil {
			s.internalError(w, "google user create failed", err)
			return
		}
	case err != nil:
		s.internalError(w, "user lookup failed", err)
		return
	case u.GoogleSub == "":
		if err := s.users.LinkGoogle(ctx, u.ID, identity.Subject); err != nil {
			s.internalError(w, "google link failed", err)
			return
		}
	case u.GoogleSub != identity.Subject:
		envelope.WriteError(w, http.StatusUnauthorized, ReasonInvalidGoogleToken)
		return
	}

	resp, err := s.startSession(ctx, w, u)
	if err != nil {
		s.internalError(w, "session start failed", err)
		return
	}
	envelope.WriteOK(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCount.Add(1)
	ctx := r.Context()

	cookie, err := r.Cookie(s.opts.CookieName)
	if err != nil || cookie.Value == "" {
		envelope.WriteError(w, http.StatusUnauthorized, ReasonMissingRefreshToken)
		return
	}
	id, secret, err := internal.DecodeToken(cookie.Value)
	if err != nil {
		s.clearRefreshCookie(w)
		envelope.WriteError(w, http.StatusUnauthorized, ReasonInvalidRefreshToken)
		return
	}
	sessionID := id.String()

	if err := s.limiter.CheckRefresh(ctx, sessionID); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			envelope.WriteError(w, http.StatusTooManyRequests, ReasonTooManyAttempts)
			return
		}
		s.internalError(w, "refresh limiter failed", err)
		return
	}

	next, err := internal.NewSecret()
	if err != nil {
		s.internalError(w, "refresh secret failed", err)
		return
	}
	sess, err := s.sessions.RotateRefreshHash(ctx, sessionID, secret.Hash(), next.Hash())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshHashMismatch):
			s.logger.Warn("refresh token reuse, session revoked", zap.String("session_id", sessionID))
		case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionExpired):
		default:
			s.internalError(w, "refresh rotation failed", err)
			return
		}
		s.clearRefreshCookie(w)
		envelope.WriteError(w, http.StatusUnauthorized, ReasonInvalidRefreshToken)
		return
	}

	u, err := s.users.Get(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, stores.ErrUserNotFound) {
			_ = s.sessions.Delete(ctx, sessionID)
			s.clearRefreshCookie(w)
			envelope.WriteError(w, http.StatusUnauthorized, ReasonInvalidRefreshToken)
			return
		}
		s.internalError(w, "user lookup failed", err)
		return
	}

	resp, err := s.issueAccess(u, sessionID)
	if err != nil {
		s.internalError(w, "access token failed", err)
		return
	}
	s.setRefreshCookie(w, internal.EncodeToken(id, next))
	envelope.WriteOK(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(s.opts.CookieName); err == nil {
		if id, _, err := internal.DecodeToken(cookie.Value); err == nil {
			if err := s.sessions.Delete(r.Context(), id.String()); err != nil {
				s.internalError(w, "session delete failed", err)
				return
			}
		}
	}
	s.clearRefreshCookie(w)
	envelope.WriteOK(w, http.StatusOK, nil)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeBody(w, r, &req) {
		return
	}
	email := stores.NormalizeEmail(req.Email)
	if !validEmail(email) {
		envelope.WriteError(w, http.StatusBadRequest, ReasonInvalidEmail)
		return
	}

	// The response never says whether the address is registered.
	u, err := s.users.GetByEmail(r.Context(), email)
	switch {
	case err == nil:
		token, err := s.newChallenge(r.Context(), stores.ChallengePasswordReset, u.ID)
		if err != nil {
			s.internalError(w, "reset challenge failed", err)
			return
		}
		s.notify(ChallengeReset, u.Email, token)
	case !errors.Is(err, stores.ErrUserNotFound):
		s.internalError(w, "user lookup failed", err)
		return
	}
	envelope.WriteOK(w, http.StatusOK, nil)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		if errors.Is(err, password.ErrPasswordLength) {
			envelope.WriteError(w, http.StatusBadRequest, ReasonInvalidPassword)
			return
		}
		s.internalError(w, "password hash failed", err)
		return
	}

	record, err := s.consumeChallenge(ctx, stores.ChallengePasswordReset, req.Token)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeRedisUnavailable) {
			s.internalError(w, "reset consume failed", err)
			return
		}
		envelope.WriteError(w, http.StatusBadRequest, ReasonInvalidResetToken)
		return
	}

	if err := s.users.SetPassword(ctx, record.UserID, hash); err != nil {
		s.internalError(w, "password update failed", err)
		return
	}
	if err := s.sessions.DeleteAllForUser(ctx, record.UserID); err != nil {
		s.logger.Warn("session revocation after reset failed", zap.String("user_id", record.UserID), zap.Error(err))
	}
	envelope.WriteOK(w, http.StatusOK, nil)
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()

	record, err := s.consumeChallenge(ctx, stores.ChallengeEmailVerification, req.Token)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeRedisUnavailable) {
			s.internalError(w, "verification consume failed", err)
			return
		}
		envelope.WriteError(w, http.StatusBadRequest, ReasonInvalidVerifyToken)
		return
	}
	if err := s.users.MarkVerified(ctx, record.UserID); err != nil {
		s.internalError(w, "verification update failed", err)
		return
	}
	envelope.WriteOK(w, http.StatusOK, nil)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		envelope.WriteError(w, http.StatusUnauthorized, middleware.ReasonInvalidToken)
		return
	}
	u, err := s.users.Get(r.Context(), p.UserID)
	if err != nil {
		if errors.Is(err, stores.ErrUserNotFound) {
			envelope.WriteError(w, http.StatusUnauthorized, middleware.ReasonSessionRevoked)
			return
		}
		s.internalError(w, "user lookup failed", err)
		return
	}
	envelope.WriteOK(w, http.StatusOK, newUserResponse(u))
}
