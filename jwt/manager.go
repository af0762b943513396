package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidConfig is returned by NewManager for unusable settings.
	ErrInvalidConfig = errors.New("jwt: invalid config")
	// ErrVerifyOnly is returned by Sign on a manager built from a public key alone.
	ErrVerifyOnly = errors.New("jwt: manager has no signing key")
	// ErrInvalidToken wraps every verification failure.
	ErrInvalidToken = errors.New("jwt: invalid token")
)

const maxLeeway = 2 * time.Minute

// SigningMethod selects the access-token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// Config configures a [Manager]. HS256 uses PrivateKey as the shared secret.
// Ed25519 keys may be raw or PEM encoded.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	// Clock overrides time.Now for issuing and verifying.
	Clock func() time.Time
}

// Identity is what an access token asserts.
type Identity struct {
	UserID    string
	SessionID string
	Email     string
}

// AccessClaims are the claims carried by an access token. SID ties the token
// to the refresh session that minted it.
type AccessClaims struct {
	UID   string `json:"uid"`
	SID   string `json:"sid"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the asserted user, session and email.
func (c *AccessClaims) Identity() Identity {
	return Identity{UserID: c.UID, SessionID: c.SID, Email: c.Email}
}

// Manager signs and verifies access tokens. Keys are decoded once at
// construction.
type Manager struct {
	ttl      time.Duration
	issuer   string
	audience string
	keyID    string

	method    jwt.SigningMethod
	signKey   any
	verifyKey any

	now    func() time.Time
	parser *jwt.Parser
}

// NewManager validates cfg, decodes its keys and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, fmt.Errorf("%w: access ttl must be > 0", ErrInvalidConfig)
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, fmt.Errorf("%w: leeway must be within [0, %s]", ErrInvalidConfig, maxLeeway)
	}

	m := &Manager{
		ttl:      cfg.AccessTTL,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		keyID:    strings.TrimSpace(cfg.KeyID),
		now:      cfg.Clock,
	}
	if m.now == nil {
		m.now = time.Now
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, fmt.Errorf("%w: hs256 secret must be at least 32 bytes", ErrInvalidConfig)
		}
		secret := append([]byte(nil), cfg.PrivateKey...)
		m.method, m.signKey, m.verifyKey = jwt.SigningMethodHS256, secret, secret
	case MethodEd25519:
		if len(cfg.PublicKey) == 0 {
			return nil, fmt.Errorf("%w: ed25519 requires a public key", ErrInvalidConfig)
		}
		pub, err := decodeEdPublic(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		m.method, m.verifyKey = jwt.SigningMethodEdDSA, pub
		if len(cfg.PrivateKey) > 0 {
			priv, err := decodeEdPrivate(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			m.signKey = priv
		}
	default:
		return nil, fmt.Errorf("%w: unsupported signing method %q", ErrInvalidConfig, cfg.SigningMethod)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	m.parser = jwt.NewParser(opts...)
	return m, nil
}

// AccessTTL returns the configured token lifetime.
func (m *Manager) AccessTTL() time.Duration {
	return m.ttl
}

// Sign mints a token for id and returns it with its expiry. Every token gets
// a fresh jti so two tokens minted in the same second still differ.
func (m *Manager) Sign(id Identity) (string, time.Time, error) {
	if m.signKey == nil {
		return "", time.Time{}, ErrVerifyOnly
	}
	issuedAt := m.now()
	expiresAt := issuedAt.Add(m.ttl)

	claims := AccessClaims{
		UID:   id.UserID,
		SID:   id.SessionID,
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.UserID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}

	tok := jwt.NewWithClaims(m.method, claims)
	if m.keyID != "" {
		tok.Header["kid"] = m.keyID
	}
	signed, err := tok.SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks raw and returns its claims. Any failure, including expiry,
// is reported as ErrInvalidToken.
func (m *Manager) Verify(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	tok, err := m.parser.ParseWithClaims(raw, claims, m.keyFor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid || claims.UID == "" || claims.SID == "" {
		return nil, fmt.Errorf("%w: missing session claims", ErrInvalidToken)
	}
	return claims, nil
}

func (m *Manager) keyFor(t *jwt.Token) (any, error) {
	if m.keyID != "" {
		if kid, _ := t.Header["kid"].(string); kid != m.keyID {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
	}
	return m.verifyKey, nil
}

func decodeEdPrivate(raw []byte) (ed25519.PrivateKey, error) {
	if len(raw) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(append([]byte(nil), raw...)), nil
	}
	key, err := jwt.ParseEdPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: ed25519 private key: %v", ErrInvalidConfig, err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: ed25519 private key has type %T", ErrInvalidConfig, key)
	}
	return priv, nil
}

func decodeEdPublic(raw []byte) (ed25519.PublicKey, error) {
	if len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(append([]byte(nil), raw...)), nil
	}
	key, err := jwt.ParseEdPublicKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: ed25519 public key: %v", ErrInvalidConfig, err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: ed25519 public key has type %T", ErrInvalidConfig, key)
	}
	return pub, nil
}
