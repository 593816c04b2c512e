package authcore

import (
	"context"
	"time"
)

// AccountStatus is the lifecycle state of a principal record.
type AccountStatus uint8

const (
	AccountActive AccountStatus = iota
	AccountDisabled
	AccountSuspended
)

// Principal is the minimal account record the Engine needs. The
// surrounding application owns the rest of the profile.
type Principal struct {
	PrincipalID  string
	Identifier   string
	PasswordHash string
	Role         string
	Status       AccountStatus
}

// TwoFactorRecord holds a principal's second-factor state. Secret is
// the raw TOTP seed; BackupCodeHashes are SHA-256 digests of the
// normalized codes. LastUsedCounter is the highest accepted TOTP time
// step, kept for replay protection.
type TwoFactorRecord struct {
	Enabled          bool
	Secret           string
	BackupCodeHashes [][32]byte
	LastUsedCounter  int64
}

// CredentialStore is the application-provided persistence boundary for
// principals and their second-factor material. Implementations must be
// safe for concurrent use. The Engine treats every error from this
// interface as backend trouble, never as bad credentials.
type CredentialStore interface {
	// FindByIdentifier resolves a login identifier (email, username) to
	// a principal. Return (nil, nil) when no principal matches.
	FindByIdentifier(ctx context.Context, identifier string) (*Principal, error)
	// FindByID resolves a principal ID. Return (nil, nil) when absent.
	FindByID(ctx context.Context, principalID string) (*Principal, error)
	// CreatePrincipal persists a new principal. Return ErrPrincipalExists
	// (or an error wrapping it) on a duplicate identifier.
	CreatePrincipal(ctx context.Context, p *Principal) error
	// UpdatePasswordHash replaces the stored password hash.
	UpdatePasswordHash(ctx context.Context, principalID, newHash string) error
	// RecordLoginOutcome lets the application track last-login metadata.
	// Failures are ignored by the Engine.
	RecordLoginOutcome(ctx context.Context, principalID string, success bool, at time.Time) error

	// TwoFactor returns the second-factor record, or (nil, nil) when the
	// principal has never configured one.
	TwoFactor(ctx context.Context, principalID string) (*TwoFactorRecord, error)
	// SaveTwoFactor persists the full second-factor record.
	SaveTwoFactor(ctx context.Context, principalID string, record *TwoFactorRecord) error
	// UpdateTwoFactorCounter advances the replay-protection counter.
	UpdateTwoFactorCounter(ctx context.Context, principalID string, counter int64) error
	// ConsumeBackupCode removes the backup code with the given hash.
	// Return false when no such unused code exists.
	ConsumeBackupCode(ctx context.Context, principalID string, hash [32]byte) (bool, error)
}

// TokenPair is one issued access/refresh pair.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginResult is the outcome of a Login call. When TwoFactorRequired is
// set, Tokens is empty and ChallengeID must be echoed back through
// ConfirmTwoFactorLogin.
type LoginResult struct {
	PrincipalID       string
	Role              string
	SessionID         string
	Tokens            TokenPair
	TwoFactorRequired bool
	ChallengeID       string
	CSRFToken         string
}

// AuthResult is the validated identity attached to a request.
type AuthResult struct {
	PrincipalID  string
	Role         string
	SessionID    string
	TokenVersion uint32
}

// SessionInfo is the read-only session view returned by enumeration.
type SessionInfo struct {
	SessionID      string
	IPAddress      string
	UserAgent      string
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
	Current        bool
}

// TrustedDeviceInfo describes one remembered device.
type TrustedDeviceInfo struct {
	FingerprintHash string
	Label           string
	CreatedAt       time.Time
	LastUsedAt      time.Time
	ExpiresAt       time.Time
}

// TwoFactorSetup is the provisioning payload returned by SetupTwoFactor.
// Secret and the otpauth URL are shown to the user exactly once.
type TwoFactorSetup struct {
	Secret     string
	OTPAuthURL string
}

// CaptchaChallenge is a freshly issued captcha. Text is the expected
// answer; transports render it and must not echo it to clients.
type CaptchaChallenge struct {
	CaptchaID string
	Text      string
	ExpiresAt time.Time
}
