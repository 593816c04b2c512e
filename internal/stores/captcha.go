package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCaptchaNotFound  = errors.New("captcha not found")
	ErrCaptchaMismatch  = errors.New("captcha answer mismatch")
	ErrCaptchaExhausted = errors.New("captcha attempts exhausted")
	ErrCaptchaBackend   = errors.New("captcha backend unavailable")
)

const (
	captchaClaimNotFound  int64 = 0
	captchaClaimOK        int64 = 1
	captchaClaimExhausted int64 = 2
	captchaClaimMismatch  int64 = 3
)

// Stored value is "<attempts>:<answer>". The claim script compares and
// either consumes the challenge or burns an attempt in one round trip;
// a separate read-then-delete would let concurrent guesses share the
// attempt budget.
const captchaClaimScript = `
local key = KEYS[1]
local provided = ARGV[1]
local max_attempts = tonumber(ARGV[2])

local data = redis.call("GET", key)
if not data then
  return 0
end

local sep = string.find(data, ":", 1, true)
if not sep then
  redis.call("DEL", key)
  return 0
end
local attempts = tonumber(string.sub(data, 1, sep - 1))
local answer = string.sub(data, sep + 1)

if answer == provided then
  redis.call("DEL", key)
  return 1
end

attempts = attempts + 1
if attempts >= max_attempts then
  redis.call("DEL", key)
  return 2
end

local ttl = redis.call("PTTL", key)
if ttl <= 0 then
  redis.call("DEL", key)
  return 0
end

redis.call("SET", key, attempts .. ":" .. answer, "PX", ttl)
return 3
`

var captchaClaimLua = redis.NewScript(captchaClaimScript)

// CaptchaStore persists single-use captcha challenges. Answers are
// matched case-insensitively; a correct claim consumes the challenge,
// and a bounded number of wrong guesses burns it.
type CaptchaStore struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int
}

func NewCaptchaStore(redisClient redis.UniversalClient, prefix string, maxAttempts int) *CaptchaStore {
	if prefix == "" {
		prefix = "cap"
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &CaptchaStore{
		redis:       redisClient,
		prefix:      prefix,
		maxAttempts: maxAttempts,
	}
}

func (s *CaptchaStore) key(captchaID string) string {
	return s.prefix + ":" + captchaID
}

func (s *CaptchaStore) Save(ctx context.Context, captchaID, answer string, ttl time.Duration) error {
	value := "0:" + strings.ToLower(answer)
	if err := s.redis.Set(ctx, s.key(captchaID), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCaptchaBackend, err)
	}
	return nil
}

// Claim validates the answer and consumes the challenge atomically.
func (s *CaptchaStore) Claim(ctx context.Context, captchaID, answer string) error {
	result, err := captchaClaimLua.Run(
		ctx,
		s.redis,
		[]string{s.key(captchaID)},
		strings.ToLower(strings.TrimSpace(answer)),
		s.maxAttempts,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptchaBackend, err)
	}

	switch result {
	case captchaClaimOK:
		return nil
	case captchaClaimNotFound:
		return ErrCaptchaNotFound
	case captchaClaimExhausted:
		return ErrCaptchaExhausted
	case captchaClaimMismatch:
		return ErrCaptchaMismatch
	default:
		return fmt.Errorf("%w: unexpected claim status %d", ErrCaptchaBackend, result)
	}
}
