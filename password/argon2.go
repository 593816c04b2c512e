package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	minPassBytes          = 10
	algorithmID           = "argon2id"
)

// phcEncoding is the unpadded base64 variant the PHC string format uses.
var phcEncoding = base64.RawStdEncoding

// Config holds argon2id cost parameters. Memory is expressed in KB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher hashes and verifies credentials using argon2id.
type Hasher struct {
	config Config
}

// NewHasher validates cfg and returns a Hasher. Parameters below the
// hard floors are rejected rather than silently raised.
func NewHasher(cfg Config) (*Hasher, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, errors.New("password memory must be >= 8192 KB")
	case cfg.Time < minTimeCost:
		return nil, errors.New("password time must be >= 1")
	case cfg.Parallelism < minParallelism:
		return nil, errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return nil, errors.New("password salt length must be >= 16")
	case cfg.KeyLength < minKeyLength:
		return nil, errors.New("password key length must be >= 16")
	}
	return &Hasher{config: cfg}, nil
}

// Hash derives an argon2id hash of password and returns it in PHC format.
// Raw password bytes are used as provided; no Unicode normalization.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < minPassBytes {
		return "", errors.New("password must be at least 10 bytes")
	}

	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt,
		h.config.Time, h.config.Memory, h.config.Parallelism, h.config.KeyLength)

	var b strings.Builder
	fmt.Fprintf(&b, "$%s$v=%d$m=%d,t=%d,p=%d$",
		algorithmID, argon2.Version, h.config.Memory, h.config.Time, h.config.Parallelism)
	b.WriteString(phcEncoding.EncodeToString(salt))
	b.WriteByte('$')
	b.WriteString(phcEncoding.EncodeToString(key))
	return b.String(), nil
}

// Verify recomputes the hash with the parameters embedded in encodedHash
// and compares in constant time.
func (h *Hasher) Verify(password string, encodedHash string) (bool, error) {
	p, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), p.salt,
		p.time, p.memory, p.parallelism, uint32(len(p.hash)))

	return subtle.ConstantTimeCompare(computed, p.hash) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the active configuration.
func (h *Hasher) NeedsUpgrade(encodedHash string) (bool, error) {
	p, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	weaker := h.config.Memory > p.memory ||
		h.config.Time > p.time ||
		h.config.Parallelism > p.parallelism ||
		h.config.KeyLength != uint32(len(p.hash))
	return weaker, nil
}

type phcFields struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

func parsePHC(encodedHash string) (*phcFields, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != algorithmID {
		return nil, errors.New("unsupported algorithm")
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return nil, errors.New("missing argon2 version")
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	var p phcFields
	var err error
	if p.memory, err = phcParam(parts[3], "m", 0, uint64(minMemoryKB)); err != nil {
		return nil, err
	}
	if p.time, err = phcParam(parts[3], "t", 1, uint64(minTimeCost)); err != nil {
		return nil, err
	}
	par, err := phcParam(parts[3], "p", 2, uint64(minParallelism))
	if err != nil {
		return nil, err
	}
	if par > 255 {
		return nil, errors.New("invalid parallelism parameter")
	}
	p.parallelism = uint8(par)

	if p.salt, err = phcEncoding.DecodeString(parts[4]); err != nil {
		return nil, errors.New("invalid salt encoding")
	}
	if len(p.salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt length")
	}
	if p.hash, err = phcEncoding.DecodeString(parts[5]); err != nil {
		return nil, errors.New("invalid hash encoding")
	}
	if len(p.hash) == 0 {
		return nil, errors.New("invalid hash length")
	}
	return &p, nil
}

// phcParam extracts the named cost parameter from the "m=..,t=..,p=.."
// segment. Order is fixed per the PHC spec.
func phcParam(segment, name string, index int, floor uint64) (uint32, error) {
	pairs := strings.Split(segment, ",")
	if len(pairs) != 3 || index >= len(pairs) {
		return 0, errors.New("invalid parameter format")
	}
	value, ok := strings.CutPrefix(pairs[index], name+"=")
	if !ok {
		return 0, fmt.Errorf("missing %s parameter", name)
	}
	v, err := strconv.ParseUint(value, 10, 32)
	if err != nil || v < floor {
		return 0, fmt.Errorf("invalid %s parameter", name)
	}
	return uint32(v), nil
}
