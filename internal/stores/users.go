package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrEmailTaken           = errors.New("email already registered")
	ErrUserRedisUnavailable = errors.New("user redis unavailable")
)

// User is the reference server's account record.
type User struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	GoogleSub    string
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserStore keeps users as Redis hashes with a unique email index.
type UserStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewUserStore creates a [UserStore]. A nil now uses time.Now.
func NewUserStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *UserStore {
	if prefix == "" {
		prefix = "au"
	}
	if now == nil {
		now = time.Now
	}
	return &UserStore{
		redis:  redisClient,
		prefix: prefix,
		now:    now,
	}
}

func (s *UserStore) key(id string) string {
	return s.prefix + ":user:" + id
}

func (s *UserStore) emailKey(email string) string {
	return s.prefix + ":email:" + NormalizeEmail(email)
}

// NormalizeEmail lowercases and trims an address for indexing.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create assigns an ID and timestamps and stores u. The email index is
// claimed first with SETNX so concurrent registrations cannot both win.
func (s *UserStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = NormalizeEmail(u.Email)
	now := s.now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	ok, err := s.redis.SetNX(ctx, s.emailKey(u.Email), u.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserRedisUnavailable, err)
	}
	if !ok {
		return ErrEmailTaken
	}

	if err := s.redis.HSet(ctx, s.key(u.ID), userFields(u)).Err(); err != nil {
		_ = s.redis.Del(ctx, s.emailKey(u.Email)).Err()
		return fmt.Errorf("%w: %v", ErrUserRedisUnavailable, err)
	}
	return nil
}

// Get returns the user with the given ID.
func (s *UserStore) Get(ctx context.Context, id string) (*User, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrUserNotFound
	}
	return parseUser(fields)
}

// GetByEmail resolves the email index and loads the user.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	id, err := s.redis.Get(ctx, s.emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUserRedisUnavailable, err)
	}
	return s.Get(ctx, id)
}

// SetPassword replaces the stored password hash.
func (s *UserStore) SetPassword(ctx context.Context, id, hash string) error {
	return s.update(ctx, id, "password_hash", hash)
}

// MarkVerified flags the user's email as verified.
func (s *UserStore) MarkVerified(ctx context.Context, id string) error {
	return s.update(ctx, id, "verified", "1")
}

// LinkGoogle records the Google subject for the user.
func (s *UserStore) LinkGoogle(ctx context.Context, id, sub string) error {
	return s.update(ctx, id, "google_sub", sub)
}

func (s *UserStore) update(ctx context.Context, id, field, value string) error {
	key := s.key(id)
	exists, err := s.redis.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserRedisUnavailable, err)
	}
	if exists == 0 {
		return ErrUserNotFound
	}

	updated := strconv.FormatInt(s.now().UTC().UnixNano(), 10)
	if err := s.redis.HSet(ctx, key, field, value, "updated_at", updated).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUserRedisUnavailable, err)
	}
	return nil
}

func userFields(u *User) map[string]any {
	verified := "0"
	if u.Verified {
		verified = "1"
	}
	return map[string]any{
		"id":            u.ID,
		"email":         u.Email,
		"first_name":    u.FirstName,
		"last_name":     u.LastName,
		"password_hash": u.PasswordHash,
		"google_sub":    u.GoogleSub,
		"verified":      verified,
		"created_at":    strconv.FormatInt(u.CreatedAt.UnixNano(), 10),
		"updated_at":    strconv.FormatInt(u.UpdatedAt.UnixNano(), 10),
	}
}

func parseUser(fields map[string]string) (*User, error) {
	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid user record: %w", err)
	}
	updated, err := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid user record: %w", err)
	}
	return &User{
		ID:           fields["id"],
		Email:        fields["email"],
		FirstName:    fields["first_name"],
		LastName:     fields["last_name"],
		PasswordHash: fields["password_hash"],
		GoogleSub:    fields["google_sub"],
		Verified:     fields["verified"] == "1",
		CreatedAt:    time.Unix(0, created).UTC(),
		UpdatedAt:    time.Unix(0, updated).UTC(),
	}, nil
}
