package stores

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const trustedDeviceRecordVersion1 = 1

var (
	ErrTrustedDeviceBackend  = errors.New("trusted device backend unavailable")
	ErrTrustedDeviceNotFound = errors.New("trusted device not found")
)

// TrustedDevice is a device fingerprint the principal chose to remember.
// A trusted device skips the two-factor step until the trust expires.
// Trust expiry is fixed at registration; later logins refresh
// LastUsedAt but never extend the window.
type TrustedDevice struct {
	FingerprintHash string
	Label           string
	CreatedAt       int64
	LastUsedAt      int64
	ExpiresAt       int64
}

type TrustedDeviceStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewTrustedDeviceStore(redisClient redis.UniversalClient, prefix string) *TrustedDeviceStore {
	if prefix == "" {
		prefix = "td"
	}
	return &TrustedDeviceStore{redis: redisClient, prefix: prefix}
}

// FingerprintHash is the stable identifier stored and indexed for a raw
// device fingerprint.
func FingerprintHash(fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:])
}

func (s *TrustedDeviceStore) key(principalID, fingerprintHash string) string {
	return s.prefix + ":" + principalID + ":" + fingerprintHash
}

func (s *TrustedDeviceStore) indexKey(principalID string) string {
	return s.prefix + "i:" + principalID
}

// Trust registers a device fingerprint for the trust duration.
func (s *TrustedDeviceStore) Trust(
	ctx context.Context,
	principalID, fingerprint, label string,
	ttl time.Duration,
) (*TrustedDevice, error) {
	now := time.Now()
	device := &TrustedDevice{
		FingerprintHash: FingerprintHash(fingerprint),
		Label:           label,
		CreatedAt:       now.Unix(),
		LastUsedAt:      now.Unix(),
		ExpiresAt:       now.Add(ttl).Unix(),
	}

	encoded, err := encodeTrustedDevice(device)
	if err != nil {
		return nil, err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(principalID, device.FingerprintHash), encoded, ttl)
		pipe.SAdd(ctx, s.indexKey(principalID), device.FingerprintHash)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrustedDeviceBackend, err)
	}
	return device, nil
}

// IsTrusted reports whether the fingerprint is currently trusted and
// refreshes LastUsedAt best-effort without touching the expiry.
func (s *TrustedDeviceStore) IsTrusted(ctx context.Context, principalID, fingerprint string) (bool, error) {
	if fingerprint == "" {
		return false, nil
	}

	hash := FingerprintHash(fingerprint)
	key := s.key(principalID, hash)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrTrustedDeviceBackend, err)
	}

	device, err := decodeTrustedDevice(data)
	if err != nil {
		return false, err
	}
	if time.Now().Unix() > device.ExpiresAt {
		_ = s.redis.Del(ctx, key).Err()
		_ = s.redis.SRem(ctx, s.indexKey(principalID), hash).Err()
		return false, nil
	}

	device.LastUsedAt = time.Now().Unix()
	if encoded, encErr := encodeTrustedDevice(device); encErr == nil {
		if pttl, ttlErr := s.redis.PTTL(ctx, key).Result(); ttlErr == nil && pttl > 0 {
			_ = s.redis.Set(ctx, key, encoded, pttl).Err()
		}
	}

	return true, nil
}

// List returns the principal's trusted devices, dropping expired index
// entries as it goes.
func (s *TrustedDeviceStore) List(ctx context.Context, principalID string) ([]*TrustedDevice, error) {
	hashes, err := s.redis.SMembers(ctx, s.indexKey(principalID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*TrustedDevice{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrTrustedDeviceBackend, err)
	}

	devices := make([]*TrustedDevice, 0, len(hashes))
	for _, hash := range hashes {
		data, getErr := s.redis.Get(ctx, s.key(principalID, hash)).Bytes()
		if getErr != nil {
			if errors.Is(getErr, redis.Nil) {
				_ = s.redis.SRem(ctx, s.indexKey(principalID), hash).Err()
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrTrustedDeviceBackend, getErr)
		}
		device, decErr := decodeTrustedDevice(data)
		if decErr != nil {
			return nil, decErr
		}
		devices = append(devices, device)
	}
	return devices, nil
}

// Revoke removes trust for one fingerprint hash.
func (s *TrustedDeviceStore) Revoke(ctx context.Context, principalID, fingerprintHash string) error {
	n, err := s.redis.Del(ctx, s.key(principalID, fingerprintHash)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTrustedDeviceBackend, err)
	}
	if err := s.redis.SRem(ctx, s.indexKey(principalID), fingerprintHash).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTrustedDeviceBackend, err)
	}
	if n == 0 {
		return ErrTrustedDeviceNotFound
	}
	return nil
}

// RevokeAll removes every trusted device for a principal.
func (s *TrustedDeviceStore) RevokeAll(ctx context.Context, principalID string) error {
	hashes, err := s.redis.SMembers(ctx, s.indexKey(principalID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrTrustedDeviceBackend, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, hash := range hashes {
			pipe.Del(ctx, s.key(principalID, hash))
		}
		pipe.Del(ctx, s.indexKey(principalID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTrustedDeviceBackend, err)
	}
	return nil
}

func encodeTrustedDevice(device *TrustedDevice) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(trustedDeviceRecordVersion1)

	for _, ts := range []int64{device.CreatedAt, device.LastUsedAt, device.ExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	for _, field := range []string{device.FingerprintHash, device.Label} {
		if len(field) > 65535 {
			return nil, errors.New("trusted device field length exceeded")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeTrustedDevice(data []byte) (*TrustedDevice, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != trustedDeviceRecordVersion1 {
		return nil, errors.New("invalid trusted device version")
	}

	device := &TrustedDevice{}
	for _, ts := range []*int64{&device.CreatedAt, &device.LastUsedAt, &device.ExpiresAt} {
		if err := binary.Read(reader, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	for _, field := range []*string{&device.FingerprintHash, &device.Label} {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*field = string(raw)
	}

	return device, nil
}
