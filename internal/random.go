package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

type SessionID [16]byte

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) Bytes() []byte {
	return s[:]
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

func NewChallengeID() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashToken is the canonical digest for jti strings, backup codes and
// device fingerprints stored in Redis.
func HashToken(value string) [32]byte {
	return sha256.Sum256([]byte(value))
}

// captchaAlphabet omits glyphs that render ambiguously: 0/O, 1/I/l,
// 5/S, 8/B.
const captchaAlphabet = "ACDEFGHJKLMNPQRTUVWXYZacdefghjkmnpqrtuvwxyz234679"

func NewCaptchaText(length int) (string, error) {
	if length < 4 || length > 12 {
		return "", errors.New("invalid captcha length")
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(captchaAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(captchaAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// backupCodeAlphabet uses the same ambiguity-free set, uppercase only,
// since backup codes are read back by humans.
const backupCodeAlphabet = "ACDEFGHJKLMNPQRTUVWXYZ234679"

// NewBackupCode returns a code formatted as XXXX-XXXX.
func NewBackupCode() (string, error) {
	var b strings.Builder
	b.Grow(9)

	max := big.NewInt(int64(len(backupCodeAlphabet)))
	for i := 0; i < 8; i++ {
		if i == 4 {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(backupCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeBackupCode canonicalizes user input before hashing: trims
// whitespace, uppercases, drops the separator.
func NormalizeBackupCode(code string) string {
	code = strings.TrimSpace(code)
	code = strings.ToUpper(code)
	return strings.ReplaceAll(code, "-", "")
}
