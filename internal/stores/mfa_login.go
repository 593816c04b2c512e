package stores

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	mfaLoginRecordVersion1 = 1
)

var (
	ErrMFALoginChallengeNotFound = errors.New("mfa challenge not found")
	ErrMFALoginChallengeExpired  = errors.New("mfa challenge expired")
	ErrMFALoginChallengeExceeded = errors.New("mfa challenge attempts exceeded")
	ErrMFALoginChallengeBackend  = errors.New("mfa challenge backend unavailable")
)

// MFALoginChallenge is the pending half-authenticated state between a
// successful password check and two-factor confirmation. Role and client
// metadata are captured at password time so the eventual session
// reflects the original request.
type MFALoginChallenge struct {
	PrincipalID string
	Role        string
	IPAddress   string
	UserAgent   string
	ExpiresAt   int64
	Attempts    uint16
}

type MFALoginChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewMFALoginChallengeStore(redisClient redis.UniversalClient, prefix string) *MFALoginChallengeStore {
	if prefix == "" {
		prefix = "amc"
	}
	return &MFALoginChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *MFALoginChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

func (s *MFALoginChallengeStore) Save(
	ctx context.Context,
	challengeID string,
	record *MFALoginChallenge,
	ttl time.Duration,
) error {
	encoded, err := encodeMFALoginChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMFALoginChallengeBackend, err)
	}
	return nil
}

func (s *MFALoginChallengeStore) Get(ctx context.Context, challengeID string) (*MFALoginChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMFALoginChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrMFALoginChallengeBackend, err)
	}

	record, err := decodeMFALoginChallenge(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, ErrMFALoginChallengeExpired
	}
	return record, nil
}

func (s *MFALoginChallengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMFALoginChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure bumps the attempt counter under WATCH and deletes the
// challenge once maxAttempts is reached. Returns true when the
// challenge was exhausted by this failure.
func (s *MFALoginChallengeStore) RecordFailure(
	ctx context.Context,
	challengeID string,
	maxAttempts int,
) (bool, error) {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeMFALoginChallenge(data)
			if err != nil {
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				if err := deleteInTx(ctx, tx, key); err != nil {
					return err
				}
				return ErrMFALoginChallengeExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				return deleteInTx(ctx, tx, key)
			}

			updated, err := encodeMFALoginChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrMFALoginChallengeNotFound
			}
			if errors.Is(err, ErrMFALoginChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrMFALoginChallengeBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrMFALoginChallengeNotFound
}

func deleteInTx(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

// Wire layout: version byte, big-endian attempts (u16) and expiry
// (i64), then four length-prefixed strings in declaration order.
func encodeMFALoginChallenge(record *MFALoginChallenge) ([]byte, error) {
	fields := [...]string{record.PrincipalID, record.Role, record.IPAddress, record.UserAgent}

	size := 1 + 2 + 8
	for _, f := range fields {
		if len(f) > 65535 {
			return nil, errors.New("mfa challenge field length exceeded")
		}
		size += 2 + len(f)
	}

	out := make([]byte, 0, size)
	out = append(out, mfaLoginRecordVersion1)
	out = binary.BigEndian.AppendUint16(out, record.Attempts)
	out = binary.BigEndian.AppendUint64(out, uint64(record.ExpiresAt))
	for _, f := range fields {
		out = binary.BigEndian.AppendUint16(out, uint16(len(f)))
		out = append(out, f...)
	}
	return out, nil
}

func decodeMFALoginChallenge(data []byte) (*MFALoginChallenge, error) {
	if len(data) < 1+2+8 {
		return nil, io.ErrUnexpectedEOF
	}
	if data[0] != mfaLoginRecordVersion1 {
		return nil, errors.New("invalid mfa challenge version")
	}

	record := &MFALoginChallenge{
		Attempts:  binary.BigEndian.Uint16(data[1:3]),
		ExpiresAt: int64(binary.BigEndian.Uint64(data[3:11])),
	}

	rest := data[11:]
	for _, dst := range []*string{&record.PrincipalID, &record.Role, &record.IPAddress, &record.UserAgent} {
		if len(rest) < 2 {
			return nil, io.ErrUnexpectedEOF
		}
		n := int(binary.BigEndian.Uint16(rest))
		rest = rest[2:]
		if len(rest) < n {
			return nil, io.ErrUnexpectedEOF
		}
		*dst = string(rest[:n])
		rest = rest[n:]
	}
	return record, nil
}
