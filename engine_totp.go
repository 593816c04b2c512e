package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/caremesh/authcore/internal"
	"github.com/caremesh/authcore/internal/limiters"
)

const totpPeriod = 30

// SetupTwoFactor provisions a TOTP secret for a principal. The secret
// stays disabled until EnableTwoFactor confirms the authenticator app
// produces valid codes.
func (e *Engine) SetupTwoFactor(ctx context.Context, principalID string) (*TwoFactorSetup, error) {
	if e == nil || e.credentials == nil {
		return nil, ErrEngineNotReady
	}

	principal, err := e.credentials.FindByID(ctx, principalID)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	if principal == nil {
		return nil, ErrInvalidCredentials
	}

	record, err := e.credentials.TwoFactor(ctx, principalID)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	if record != nil && record.Enabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.config.TwoFactor.Issuer,
		AccountName: principal.Identifier,
		Period:      totpPeriod,
	})
	if err != nil {
		return nil, err
	}

	pending := &TwoFactorRecord{Secret: key.Secret()}
	if err := e.credentials.SaveTwoFactor(ctx, principalID, pending); err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	return &TwoFactorSetup{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
	}, nil
}

// EnableTwoFactor turns on the second factor after verifying a live
// code against the pending secret. It returns the freshly generated
// backup codes in plaintext; they are never recoverable afterwards.
func (e *Engine) EnableTwoFactor(ctx context.Context, principalID, code string) ([]string, error) {
	if e == nil || e.credentials == nil {
		return nil, ErrEngineNotReady
	}

	record, err := e.credentials.TwoFactor(ctx, principalID)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	if record == nil || record.Secret == "" {
		return nil, ErrTwoFactorNotEnabled
	}
	if record.Enabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	step, err := e.checkTOTPCode(ctx, principalID, record, code)
	if err != nil {
		return nil, err
	}

	codes, hashes, err := e.generateBackupCodes()
	if err != nil {
		return nil, err
	}

	record.Enabled = true
	record.BackupCodeHashes = hashes
	record.LastUsedCounter = step
	if err := e.credentials.SaveTwoFactor(ctx, principalID, record); err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, principalID, "", nil, nil)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, principalID, "", nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(codes))}
	})
	e.metricInc(MetricBackupCodeRegenerated)

	return codes, nil
}

// DisableTwoFactor turns the second factor off. It requires a valid
// TOTP or backup code so a hijacked session cannot silently weaken the
// account.
func (e *Engine) DisableTwoFactor(ctx context.Context, principalID, code string) error {
	if e == nil || e.credentials == nil {
		return ErrEngineNotReady
	}

	if err := e.verifySecondFactor(ctx, principalID, code); err != nil {
		return err
	}

	cleared := &TwoFactorRecord{}
	if err := e.credentials.SaveTwoFactor(ctx, principalID, cleared); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, principalID, "", nil, nil)
	return nil
}

// RegenerateBackupCodes replaces the backup code set. Only a live TOTP
// code authorizes it; a backup code cannot mint its own successors.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, principalID, code string) ([]string, error) {
	if e == nil || e.credentials == nil {
		return nil, ErrEngineNotReady
	}

	record, err := e.credentials.TwoFactor(ctx, principalID)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	if record == nil || !record.Enabled {
		return nil, ErrTwoFactorNotEnabled
	}

	step, err := e.checkTOTPCode(ctx, principalID, record, code)
	if err != nil {
		return nil, err
	}

	codes, hashes, err := e.generateBackupCodes()
	if err != nil {
		return nil, err
	}

	record.BackupCodeHashes = hashes
	record.LastUsedCounter = step
	if err := e.credentials.SaveTwoFactor(ctx, principalID, record); err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, principalID, "", nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(codes))}
	})

	return codes, nil
}

// verifySecondFactor accepts either a six-digit TOTP code or a backup
// code and consumes the matching credential.
func (e *Engine) verifySecondFactor(ctx context.Context, principalID, code string) error {
	record, err := e.credentials.TwoFactor(ctx, principalID)
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	if record == nil || !record.Enabled {
		return ErrTwoFactorNotEnabled
	}

	if looksLikeTOTP(code) {
		step, err := e.checkTOTPCode(ctx, principalID, record, code)
		if err != nil {
			return err
		}
		if err := e.credentials.UpdateTwoFactorCounter(ctx, principalID, step); err != nil {
			return errors.Join(ErrStoreUnavailable, err)
		}
		return nil
	}
	return e.consumeBackupCode(ctx, principalID, code)
}

// checkTOTPCode validates a code against the secret within the
// configured skew and returns the time step that matched. Steps at or
// below LastUsedCounter are replays and rejected.
func (e *Engine) checkTOTPCode(ctx context.Context, principalID string, record *TwoFactorRecord, code string) (int64, error) {
	if err := e.totpLimiter.Check(ctx, principalID); err != nil {
		if errors.Is(err, limiters.ErrTOTPRateLimited) {
			e.metricInc(MetricTwoFactorFailure)
			return 0, ErrRateLimited
		}
		return 0, ErrBackendUnavailable
	}

	now := time.Now()
	skew := int64(e.config.TwoFactor.Skew)
	opts := totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}

	// Validate each step in the window separately so the accepted step
	// is known for replay tracking.
	for offset := -skew; offset <= skew; offset++ {
		at := now.Add(time.Duration(offset*totpPeriod) * time.Second)
		ok, err := totp.ValidateCustom(code, record.Secret, at, opts)
		if err != nil {
			continue
		}
		if !ok {
			continue
		}
		step := at.Unix() / totpPeriod
		if step <= record.LastUsedCounter {
			return 0, e.failSecondFactor(ctx, principalID, "totp_replay")
		}
		_ = e.totpLimiter.Reset(ctx, principalID)
		return step, nil
	}

	return 0, e.failSecondFactor(ctx, principalID, "totp_mismatch")
}

func (e *Engine) failSecondFactor(ctx context.Context, principalID, reason string) error {
	e.metricInc(MetricTwoFactorFailure)
	e.emitAudit(ctx, auditEventTwoFactorFailure, false, principalID, "", ErrTwoFactorInvalid, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	if err := e.totpLimiter.RecordFailure(ctx, principalID); err != nil && !errors.Is(err, limiters.ErrTOTPRateLimited) {
		return ErrBackendUnavailable
	}
	return ErrTwoFactorInvalid
}

// consumeBackupCode redeems a single-use backup code.
func (e *Engine) consumeBackupCode(ctx context.Context, principalID, code string) error {
	if err := e.backupLimiter.Check(ctx, principalID); err != nil {
		if errors.Is(err, limiters.ErrBackupCodeRateLimited) {
			e.metricInc(MetricBackupCodeFailed)
			return ErrRateLimited
		}
		return ErrBackendUnavailable
	}

	hash := internal.HashToken(internal.NormalizeBackupCode(code))
	used, err := e.credentials.ConsumeBackupCode(ctx, principalID, hash)
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	if !used {
		e.metricInc(MetricBackupCodeFailed)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, principalID, "", ErrTwoFactorInvalid, func() map[string]string {
			return map[string]string{"reason": "backup_code_mismatch"}
		})
		if recErr := e.backupLimiter.RecordFailure(ctx, principalID); recErr != nil && !errors.Is(recErr, limiters.ErrBackupCodeRateLimited) {
			return ErrBackendUnavailable
		}
		return ErrTwoFactorInvalid
	}

	_ = e.backupLimiter.Reset(ctx, principalID)
	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(ctx, auditEventBackupCodeUsed, true, principalID, "", nil, nil)
	return nil
}

func (e *Engine) generateBackupCodes() ([]string, [][32]byte, error) {
	count := e.config.TwoFactor.BackupCodeCount
	if count <= 0 {
		count = 10
	}

	codes := make([]string, 0, count)
	hashes := make([][32]byte, 0, count)
	for i := 0; i < count; i++ {
		code, err := internal.NewBackupCode()
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, internal.HashToken(internal.NormalizeBackupCode(code)))
	}
	return codes, hashes, nil
}

// looksLikeTOTP is the dispatch rule between the two second-factor
// shapes: authenticator codes are exactly six digits, backup codes are
// longer and alphanumeric.
func looksLikeTOTP(code string) bool {
	if len(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
