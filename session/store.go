package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps transport-level Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrRefreshHashMismatch signals that the presented refresh token is
	// not the session's current one — the reuse-detection trigger.
	ErrRefreshHashMismatch = errors.New("refresh hash mismatch")
	// ErrRotateSessionNotFound is returned when the rotation target session does not exist.
	ErrRotateSessionNotFound = errors.New("rotation session not found")
	// ErrRotateSessionExpired is returned when the rotation target session is expired.
	ErrRotateSessionExpired = errors.New("rotation session expired")
)

const (
	rotateStatusNotFound    int64 = 0
	rotateStatusExpired     int64 = 1
	rotateStatusMismatch    int64 = 2
	rotateStatusRotated     int64 = 3
	rotateStatusInvalidBlob int64 = 4
)

const sessionParserLua = `
local function read_be64(s, i)
  local b1 = string.byte(s, i)
  local b2 = string.byte(s, i + 1)
  local b3 = string.byte(s, i + 2)
  local b4 = string.byte(s, i + 3)
  local b5 = string.byte(s, i + 4)
  local b6 = string.byte(s, i + 5)
  local b7 = string.byte(s, i + 6)
  local b8 = string.byte(s, i + 7)
  if not b8 then
    return nil
  end
  return ((((((((b1 * 256) + b2) * 256 + b3) * 256 + b4) * 256 + b5) * 256 + b6) * 256 + b7) * 256 + b8)
end

local function parse_session(data)
  local version = string.byte(data, 1)
  if version ~= 1 then
    return nil
  end

  local idx = 2
  local plen = string.byte(data, idx)
  if not plen then
    return nil
  end
  idx = idx + 1
  if #data < idx + plen - 1 then
    return nil
  end
  local principal_id = string.sub(data, idx, idx + plen - 1)
  idx = idx + plen

  for _ = 1, 3 do
    local n = string.byte(data, idx)
    if not n then
      return nil
    end
    idx = idx + 1 + n
  end

  if #data < idx + 3 then
    return nil
  end
  idx = idx + 4

  if #data < idx + 31 then
    return nil
  end
  local refresh_offset = idx
  local refresh_hash = string.sub(data, idx, idx + 31)
  idx = idx + 32

  if #data < idx + 23 then
    return nil
  end
  idx = idx + 16
  local expires_at = read_be64(data, idx)
  if not expires_at then
    return nil
  end

  return {
    principal_id = principal_id,
    refresh_hash = refresh_hash,
    refresh_offset = refresh_offset,
    expires_at = expires_at
  }
end
`

const rotateRefreshScript = sessionParserLua + `
local session_key = KEYS[1]
local session_id = ARGV[1]
local principal_prefix = ARGV[2]
local provided_hash = ARGV[3]
local next_hash = ARGV[4]
local now_unix = tonumber(ARGV[5])

local data = redis.call("GET", session_key)
if not data then
  return {0}
end

local parsed = parse_session(data)
if not parsed or not parsed.principal_id then
  return {4}
end

local principal_key = principal_prefix .. parsed.principal_id

if parsed.expires_at <= now_unix then
  redis.call("DEL", session_key)
  redis.call("SREM", principal_key, session_id)
  return {1}
end

if parsed.refresh_hash ~= provided_hash then
  redis.call("DEL", session_key)
  redis.call("SREM", principal_key, session_id)
  return {2}
end

local ttl = redis.call("PTTL", session_key)
if ttl <= 0 then
  redis.call("DEL", session_key)
  redis.call("SREM", principal_key, session_id)
  return {1}
end

local prefix = string.sub(data, 1, parsed.refresh_offset - 1)
local suffix = string.sub(data, parsed.refresh_offset + 32)
local updated = prefix .. next_hash .. suffix

redis.call("SET", session_key, updated, "PX", ttl)
redis.call("SADD", principal_key, session_id)

return {3, updated}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

const deleteSessionScript = sessionParserLua + `
local session_key = KEYS[1]
local session_id = ARGV[1]
local principal_prefix = ARGV[2]

local data = redis.call("GET", session_key)
if not data then
  return 0
end

local parsed = parse_session(data)
if parsed and parsed.principal_id then
  redis.call("SREM", principal_prefix .. parsed.principal_id, session_id)
end
redis.call("DEL", session_key)
return 1
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store is the Redis-backed session registry.
type Store struct {
	redis           redis.UniversalClient
	prefix          string
	principalPrefix string
	touchInterval   time.Duration
}

// NewStore creates a session Store. prefix namespaces the session keys;
// touchInterval bounds how often LastActivityAt is written back on reads
// (0 disables activity tracking).
func NewStore(client redis.UniversalClient, prefix string, touchInterval time.Duration) *Store {
	if prefix == "" {
		prefix = "sess"
	}
	return &Store{
		redis:           client,
		prefix:          prefix,
		principalPrefix: prefix + "p:",
		touchInterval:   touchInterval,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) principalKey(principalID string) string {
	return s.principalPrefix + principalID
}

// Save persists sess with the given TTL and indexes it under its
// principal.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, s.principalKey(sess.PrincipalID), sess.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get retrieves a session by ID. Expired sessions are deleted and
// reported as redis.Nil. When activity tracking is enabled and the last
// recorded activity is older than the touch interval, LastActivityAt is
// written back best-effort.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID

	now := time.Now()
	if now.Unix() > sess.ExpiresAt {
		if err := s.Delete(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, redis.Nil
	}

	s.maybeTouch(ctx, sess, now)

	return sess, nil
}

// maybeTouch refreshes LastActivityAt at most once per touch interval.
// Read-modify-write, deliberately non-atomic: a lost update costs at
// worst one interval of activity precision.
func (s *Store) maybeTouch(ctx context.Context, sess *Session, now time.Time) {
	if s.touchInterval <= 0 {
		return
	}
	if now.Unix()-sess.LastActivityAt < int64(s.touchInterval/time.Second) {
		return
	}

	sess.LastActivityAt = now.Unix()
	encoded, err := Encode(sess)
	if err != nil {
		return
	}

	pttl, err := s.redis.PTTL(ctx, s.key(sess.SessionID)).Result()
	if err != nil || pttl <= 0 {
		return
	}
	_ = s.redis.Set(ctx, s.key(sess.SessionID), encoded, pttl).Err()
}

// Delete removes a session and its principal-index entry. Idempotent.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	_, err := deleteSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		sessionID,
		s.principalPrefix,
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForPrincipal removes every session for a principal, optionally
// sparing one session ID (logout-all-others).
//
// ATOMICITY NOTE: this reads the principal's session set and then deletes
// in a transaction. A session created between the read and the delete is
// not captured; it will be caught by the token-version bump the caller
// performs alongside mass invalidation.
func (s *Store) DeleteAllForPrincipal(ctx context.Context, principalID, exceptSessionID string) error {
	principalKey := s.principalKey(principalID)

	sessionIDs, err := s.redis.SMembers(ctx, principalKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(sessionIDs))
	for _, sid := range sessionIDs {
		if exceptSessionID != "" && sid == exceptSessionID {
			continue
		}
		keys = append(keys, s.key(sid))
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		if exceptSessionID == "" {
			pipe.Del(ctx, principalKey)
		} else {
			for _, sid := range sessionIDs {
				if sid != exceptSessionID {
					pipe.SRem(ctx, principalKey, sid)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ActiveSessionCount returns the number of indexed sessions for a
// principal. The index may briefly include sessions that expired but
// have not been swept; callers enforcing caps treat this as an upper
// bound.
func (s *Store) ActiveSessionCount(ctx context.Context, principalID string) (int, error) {
	count, err := s.redis.SCard(ctx, s.principalKey(principalID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

// ActiveSessionIDs returns the indexed session IDs for a principal.
func (s *Store) ActiveSessionIDs(ctx context.Context, principalID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.principalKey(principalID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// GetManyReadOnly fetches multiple sessions without touching activity
// timestamps. Missing and expired entries are skipped.
func (s *Store) GetManyReadOnly(ctx context.Context, sessionIDs []string) ([]*Session, error) {
	if len(sessionIDs) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(sessionIDs))
	for i, sid := range sessionIDs {
		cmds[i] = pipe.Get(ctx, s.key(sid))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(sessionIDs))
	nowUnix := time.Now().Unix()
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		sess, decErr := Decode(data)
		if decErr != nil {
			return nil, decErr
		}
		sess.SessionID = sessionIDs[i]
		if nowUnix > sess.ExpiresAt {
			continue
		}
		sessions = append(sessions, sess)
	}

	return sessions, nil
}

// RotateRefreshHash atomically replaces the session's refresh-token hash
// when providedHash matches the stored one. On mismatch the session is
// destroyed and ErrRefreshHashMismatch is returned: a consumed refresh
// token presented again is treated as hostile.
func (s *Store) RotateRefreshHash(
	ctx context.Context,
	sessionID string,
	providedHash [32]byte,
	nextHash [32]byte,
) (*Session, error) {
	result, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		sessionID,
		s.principalPrefix,
		providedHash[:],
		nextHash[:],
		time.Now().Unix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotation script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotation script status", ErrRedisUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return nil, errors.Join(redis.Nil, ErrRotateSessionNotFound)
	case rotateStatusExpired:
		return nil, errors.Join(redis.Nil, ErrRotateSessionExpired)
	case rotateStatusMismatch:
		return nil, ErrRefreshHashMismatch
	case rotateStatusRotated:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing updated session payload", ErrRedisUnavailable)
		}
		var blob []byte
		switch v := parts[1].(type) {
		case string:
			blob = []byte(v)
		case []byte:
			blob = v
		default:
			return nil, fmt.Errorf("%w: invalid updated session payload", ErrRedisUnavailable)
		}
		sess, decErr := Decode(blob)
		if decErr != nil {
			return nil, decErr
		}
		sess.SessionID = sessionID
		return sess, nil
	case rotateStatusInvalidBlob:
		return nil, errors.Join(ErrRedisUnavailable, ErrSessionCorrupt)
	default:
		return nil, fmt.Errorf("%w: unknown rotation script status", ErrRedisUnavailable)
	}
}

// Ping returns Redis availability and round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
