package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRefreshHashMismatch means a superseded refresh token was presented.
	// The session has been deleted by the time this is returned.
	ErrRefreshHashMismatch = errors.New("refresh hash mismatch")
	// ErrRedisUnavailable wraps Redis command failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrSessionNotFound is returned when the session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when the session outlived its lifetime.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionCorrupt is returned when a stored hash has unexpected fields.
	ErrSessionCorrupt = errors.New("session corrupt")
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
)

const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
  local count = tonumber(redis.call("GET", KEYS[3]) or "0")
  if count > 1 then
    redis.call("DECR", KEYS[3])
  elseif count == 1 then
    redis.call("DEL", KEYS[3])
  end
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

const rotateRefreshScript = `
local session_key = KEYS[1]
local count_key = KEYS[2]
local session_id = ARGV[1]
local user_prefix = ARGV[2]
local provided_hash = ARGV[3]
local next_hash = ARGV[4]
local now = tonumber(ARGV[5])

local fields = redis.call("HMGET", session_key, "uid", "refresh", "created", "expires")
local uid = fields[1]
if not uid then
  return {0}
end

local user_key = user_prefix .. uid

local function drop()
  local deleted = redis.call("DEL", session_key)
  redis.call("SREM", user_key, session_id)
  if deleted == 1 then
    local count = tonumber(redis.call("GET", count_key) or "0")
    if count > 1 then
      redis.call("DECR", count_key)
    elseif count == 1 then
      redis.call("DEL", count_key)
    end
  end
end

local expires = tonumber(fields[4])
if not expires or expires <= now then
  drop()
  return {1}
end

if fields[2] ~= provided_hash then
  drop()
  return {2}
end

redis.call("HSET", session_key, "refresh", next_hash)
return {3, uid, fields[3], fields[4]}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// Store keeps refresh sessions as Redis hashes, indexed per user, with a
// global active-session counter.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore creates a session [Store]. An empty prefix uses "as"; a nil now
// uses time.Now.
func NewStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *Store {
	if prefix == "" {
		prefix = "as"
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
		now:    now,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) userKeyPrefix() string {
	return s.prefix + ":u:"
}

func (s *Store) userKey(userID string) string {
	return s.userKeyPrefix() + userID
}

func (s *Store) countKey() string {
	return s.prefix + ":count"
}

// Save persists sess with the given TTL and indexes it under its user.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	key := s.key(sess.SessionID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"uid", sess.UserID,
			"refresh", sess.RefreshHash[:],
			"created", strconv.FormatInt(sess.CreatedAt, 10),
			"expires", strconv.FormatInt(sess.ExpiresAt, 10),
		)
		pipe.PExpire(ctx, key, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.SessionID)
		pipe.Incr(ctx, s.countKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get loads a session. Expired sessions are deleted and reported as
// ErrSessionExpired.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}

	sess, err := parseSession(sessionID, fields)
	if err != nil {
		return nil, err
	}
	if sess.ExpiresAt <= s.now().Unix() {
		if err := s.deleteSessionAndIndex(ctx, sess.UserID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// Exists reports whether the session is still live. It is the cheap check
// used on every strictly guarded request.
func (s *Store) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// Delete removes a session and its index entry. Deleting a missing session
// is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	userID, err := s.redis.HGet(ctx, s.key(sessionID), "uid").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return s.deleteSessionAndIndex(ctx, userID, sessionID)
}

// DeleteAllForUser removes every session indexed under userID. A session
// created concurrently with this call may survive it.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	sessionIDs, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	for _, sessionID := range sessionIDs {
		if err := s.deleteSessionAndIndex(ctx, userID, sessionID); err != nil {
			return err
		}
	}
	return nil
}

// ActiveSessionCount returns how many sessions are indexed for userID.
func (s *Store) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	n, err := s.redis.SCard(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}

// SessionCount returns the global active-session counter. It never goes
// below zero.
func (s *Store) SessionCount(ctx context.Context) (int, error) {
	n, err := s.redis.Get(ctx, s.countKey()).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// RotateRefreshHash swaps the session's refresh hash from providedHash to
// nextHash in one Lua call. Presenting any other hash deletes the session so
// a stolen, already-rotated token cannot be used to keep it alive.
func (s *Store) RotateRefreshHash(
	ctx context.Context,
	sessionID string,
	providedHash [32]byte,
	nextHash [32]byte,
) (*Session, error) {
	result, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID), s.countKey()},
		sessionID,
		s.userKeyPrefix(),
		providedHash[:],
		nextHash[:],
		s.now().Unix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid refresh script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid refresh script status", ErrRedisUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return nil, ErrSessionNotFound
	case rotateStatusExpired:
		return nil, ErrSessionExpired
	case rotateStatusMismatch:
		return nil, ErrRefreshHashMismatch
	case rotateStatusRotated:
		if len(parts) < 4 {
			return nil, ErrSessionCorrupt
		}
		fields := make(map[string]string, 3)
		for i, name := range []string{"uid", "created", "expires"} {
			v, ok := parts[i+1].(string)
			if !ok {
				return nil, ErrSessionCorrupt
			}
			fields[name] = v
		}
		fields["refresh"] = string(nextHash[:])
		return parseSession(sessionID, fields)
	default:
		return nil, fmt.Errorf("%w: unknown refresh script status", ErrRedisUnavailable)
	}
}

func (s *Store) deleteSessionAndIndex(ctx context.Context, userID, sessionID string) error {
	keys := []string{s.key(sessionID), s.userKey(userID), s.countKey()}
	if err := deleteSessionLua.Run(ctx, s.redis, keys, sessionID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func parseSession(sessionID string, fields map[string]string) (*Session, error) {
	sess := &Session{
		SessionID: sessionID,
		UserID:    fields["uid"],
	}
	if sess.UserID == "" || len(fields["refresh"]) != len(sess.RefreshHash) {
		return nil, ErrSessionCorrupt
	}
	copy(sess.RefreshHash[:], fields["refresh"])

	var err error
	if sess.CreatedAt, err = strconv.ParseInt(fields["created"], 10, 64); err != nil {
		return nil, ErrSessionCorrupt
	}
	if sess.ExpiresAt, err = strconv.ParseInt(fields["expires"], 10, 64); err != nil {
		return nil, ErrSessionCorrupt
	}
	return sess, nil
}
