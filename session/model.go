package session

// Session is one refresh session. RefreshHash is the SHA-256 of the secret
// half of the current refresh token; the plaintext is never stored.
type Session struct {
	SessionID   string
	UserID      string
	RefreshHash [32]byte
	CreatedAt   int64
	ExpiresAt   int64
}
