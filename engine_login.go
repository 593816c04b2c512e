package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/caremesh/authcore/internal"
	"github.com/caremesh/authcore/internal/rate"
	"github.com/caremesh/authcore/internal/stores"
	"github.com/caremesh/authcore/session"
)

// LoginRequest carries one credential login attempt. CaptchaID and
// CaptchaAnswer are required once the principal crossed the captcha
// threshold. Device trust is granted on the second-factor path, via
// ConfirmTwoFactorLogin's rememberDevice flag.
type LoginRequest struct {
	Identifier    string
	Password      string
	CaptchaID     string
	CaptchaAnswer string
}

// dummyHash keeps verification time flat for unknown identifiers so the
// response time does not reveal account existence.
const dummyHash = "$argon2id$v=19$m=65536,t=3,p=2$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Login runs the credential phase of the login state machine: rate
// limits, lockout, captcha gate, password verification, then either a
// pending two-factor challenge or a full session with tokens.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil || e.passwordHash == nil || e.credentials == nil {
		return nil, ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)

	if e.rateLimiter != nil {
		scopes := []string{}
		if ip != "" {
			scopes = append(scopes, "ip:"+ip)
		}
		if req.Identifier != "" {
			scopes = append(scopes, "id:"+req.Identifier)
		}
		decision, err := e.rateLimiter.AllowAll(ctx, rate.ActionLogin, scopes...)
		if err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricLoginRateLimited)
				e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrRateLimited, func() map[string]string {
					return map[string]string{"identifier": req.Identifier}
				})
				e.emitRateLimit(ctx, "login", func() map[string]string {
					return map[string]string{"identifier": req.Identifier}
				})
				return nil, &RateLimitedError{ResetAt: decision.ResetAt}
			}
			return nil, ErrBackendUnavailable
		}
	}

	if req.Identifier == "" || req.Password == "" {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "empty_input"}
		})
		return nil, ErrInvalidCredentials
	}

	principal, err := e.credentials.FindByIdentifier(ctx, req.Identifier)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	if principal == nil {
		// Burn comparable time and count the failure against the
		// identifier scope only; there is no principal to lock.
		_, _ = e.passwordHash.Verify(req.Password, dummyHash)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"identifier": req.Identifier, "reason": "unknown_identifier"}
		})
		return nil, ErrInvalidCredentials
	}

	status, err := e.lockout.Status(ctx, principal.PrincipalID)
	if err != nil {
		return nil, ErrBackendUnavailable
	}
	if status.Locked {
		e.emitAudit(ctx, auditEventLoginFailure, false, principal.PrincipalID, "", ErrAccountLocked, nil)
		return nil, ErrAccountLocked
	}

	if status.CaptchaRequired {
		if req.CaptchaID == "" || req.CaptchaAnswer == "" {
			e.metricInc(MetricCaptchaRequired)
			e.emitAudit(ctx, auditEventLoginFailure, false, principal.PrincipalID, "", ErrCaptchaRequired, nil)
			return nil, ErrCaptchaRequired
		}
		if err := e.captchaStore.Claim(ctx, req.CaptchaID, req.CaptchaAnswer); err != nil {
			if errors.Is(err, stores.ErrCaptchaBackend) {
				return nil, ErrBackendUnavailable
			}
			e.metricInc(MetricCaptchaFailed)
			e.emitAudit(ctx, auditEventCaptchaFailed, false, principal.PrincipalID, "", ErrCaptchaInvalid, nil)
			return nil, ErrCaptchaInvalid
		}
		e.metricInc(MetricCaptchaSolved)
	}

	ok, verifyErr := e.passwordHash.Verify(req.Password, principal.PasswordHash)
	if verifyErr != nil || !ok {
		return nil, e.failLogin(ctx, principal, "password_mismatch")
	}

	if principal.Status != AccountActive {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, principal.PrincipalID, "", ErrAccountInactive, nil)
		return nil, ErrAccountInactive
	}

	e.maybeUpgradeHash(ctx, principal, req.Password)
	req.Password = ""

	twoFactor, err := e.credentials.TwoFactor(ctx, principal.PrincipalID)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	if twoFactor != nil && twoFactor.Enabled {
		fingerprint := deviceFingerprintFromContext(ctx)
		trusted := false
		if e.config.DeviceTrust.Enabled && fingerprint != "" {
			trusted, err = e.trustedDevices.IsTrusted(ctx, principal.PrincipalID, fingerprint)
			if err != nil {
				return nil, ErrBackendUnavailable
			}
		}
		if trusted {
			e.metricInc(MetricDeviceTrustBypass)
			e.emitAudit(ctx, auditEventDeviceTrustBypass, true, principal.PrincipalID, "", nil, nil)
		} else {
			return e.startTwoFactorChallenge(ctx, principal)
		}
	}

	return e.finishLogin(ctx, principal.PrincipalID, principal.Role)
}

// ConfirmTwoFactorLogin completes a pending login challenge with a TOTP
// code or a backup code.
func (e *Engine) ConfirmTwoFactorLogin(ctx context.Context, challengeID, code string, rememberDevice bool) (*LoginResult, error) {
	if e == nil || e.mfaLoginStore == nil {
		return nil, ErrEngineNotReady
	}

	challenge, err := e.mfaLoginStore.Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, stores.ErrMFALoginChallengeBackend) {
			return nil, ErrBackendUnavailable
		}
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, "", "", ErrChallengeInvalid, nil)
		return nil, ErrChallengeInvalid
	}

	if err := e.verifySecondFactor(ctx, challenge.PrincipalID, code); err != nil {
		if errors.Is(err, ErrTwoFactorInvalid) {
			exceeded, recErr := e.mfaLoginStore.RecordFailure(ctx, challengeID, e.config.TwoFactor.MaxAttempts)
			if recErr == nil && exceeded {
				e.emitAudit(ctx, auditEventTwoFactorFailure, false, challenge.PrincipalID, "", ErrChallengeInvalid, func() map[string]string {
					return map[string]string{"reason": "attempts_exceeded"}
				})
				return nil, ErrChallengeInvalid
			}
		}
		return nil, err
	}

	if _, err := e.mfaLoginStore.Delete(ctx, challengeID); err != nil {
		return nil, ErrBackendUnavailable
	}

	e.metricInc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, auditEventTwoFactorSuccess, true, challenge.PrincipalID, "", nil, nil)

	if rememberDevice && e.config.DeviceTrust.Enabled {
		if fingerprint := deviceFingerprintFromContext(ctx); fingerprint != "" {
			ua := userAgentFromContext(ctx)
			if _, trustErr := e.trustedDevices.Trust(ctx, challenge.PrincipalID, fingerprint, ua, e.config.DeviceTrust.TrustDuration); trustErr == nil {
				e.metricInc(MetricDeviceTrusted)
				e.emitAudit(ctx, auditEventDeviceTrusted, true, challenge.PrincipalID, "", nil, nil)
			}
		}
	}

	// Client metadata from the password phase wins over whatever is on
	// this request's context.
	loginCtx := ctx
	if challenge.IPAddress != "" {
		loginCtx = WithClientIP(loginCtx, challenge.IPAddress)
	}
	if challenge.UserAgent != "" {
		loginCtx = WithUserAgent(loginCtx, challenge.UserAgent)
	}

	return e.finishLogin(loginCtx, challenge.PrincipalID, challenge.Role)
}

func (e *Engine) startTwoFactorChallenge(ctx context.Context, principal *Principal) (*LoginResult, error) {
	challengeID, err := internal.NewChallengeID()
	if err != nil {
		return nil, err
	}

	record := &stores.MFALoginChallenge{
		PrincipalID: principal.PrincipalID,
		Role:        principal.Role,
		IPAddress:   clientIPFromContext(ctx),
		UserAgent:   userAgentFromContext(ctx),
		ExpiresAt:   time.Now().Add(e.config.TwoFactor.ChallengeTTL).Unix(),
	}
	if err := e.mfaLoginStore.Save(ctx, challengeID, record, e.config.TwoFactor.ChallengeTTL); err != nil {
		return nil, ErrBackendUnavailable
	}

	e.metricInc(MetricTwoFactorRequired)
	e.emitAudit(ctx, auditEventTwoFactorRequired, true, principal.PrincipalID, "", nil, nil)

	return &LoginResult{
		PrincipalID:       principal.PrincipalID,
		Role:              principal.Role,
		TwoFactorRequired: true,
		ChallengeID:       challengeID,
	}, nil
}

// finishLogin mints the session and token pair once every gate has
// passed.
func (e *Engine) finishLogin(ctx context.Context, principalID, role string) (*LoginResult, error) {
	count, err := e.sessionStore.ActiveSessionCount(ctx, principalID)
	if err != nil {
		return nil, ErrBackendUnavailable
	}
	if e.config.Session.MaxPerPrincipal > 0 && count >= e.config.Session.MaxPerPrincipal {
		// Hitting the cap reads as credential stuffing: burn every
		// session and deny this login.
		e.metricInc(MetricSessionCapExceeded)
		e.emitAudit(ctx, auditEventSessionCapExceeded, false, principalID, "", ErrSessionLimitExceeded, nil)
		e.securityEvent(ctx, principalID, "", "session_cap_exceeded")
		return nil, ErrSessionLimitExceeded
	}

	version, err := e.tokenVersion(ctx, principalID)
	if err != nil {
		return nil, err
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	sessionID := sid.String()

	now := time.Now()
	lifetime := e.sessionLifetime()
	sess := &session.Session{
		SessionID:      sessionID,
		PrincipalID:    principalID,
		Role:           role,
		TokenVersion:   version,
		IPAddress:      clientIPFromContext(ctx),
		UserAgent:      userAgentFromContext(ctx),
		CreatedAt:      now.Unix(),
		LastActivityAt: now.Unix(),
		ExpiresAt:      now.Add(lifetime).Unix(),
	}

	pair, refreshHash, err := e.issuePair(sess, now)
	if err != nil {
		return nil, err
	}
	sess.RefreshHash = refreshHash

	if err := e.sessionStore.Save(ctx, sess, lifetime); err != nil {
		return nil, ErrBackendUnavailable
	}

	csrfToken, err := e.csrfGuard.Issue(sessionID)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricCSRFIssued)

	if err := e.lockout.Reset(ctx, principalID); err != nil {
		return nil, ErrBackendUnavailable
	}
	_ = e.totpLimiter.Reset(ctx, principalID)
	_ = e.backupLimiter.Reset(ctx, principalID)
	_ = e.credentials.RecordLoginOutcome(ctx, principalID, true, now)

	e.metricInc(MetricSessionCreated)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, principalID, sessionID, nil, nil)

	return &LoginResult{
		PrincipalID: principalID,
		Role:        role,
		SessionID:   sessionID,
		Tokens:      pair,
		CSRFToken:   csrfToken,
	}, nil
}

// failLogin records a failed password attempt and escalates per the
// lockout policy.
func (e *Engine) failLogin(ctx context.Context, principal *Principal, reason string) error {
	_ = e.credentials.RecordLoginOutcome(ctx, principal.PrincipalID, false, time.Now())

	status, err := e.lockout.RecordFailure(ctx, principal.PrincipalID)
	if err != nil {
		return ErrBackendUnavailable
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, principal.PrincipalID, "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"reason": reason}
	})

	if status.Locked {
		e.metricInc(MetricAccountLocked)
		e.emitAudit(ctx, auditEventAccountLocked, false, principal.PrincipalID, "", ErrAccountLocked, nil)
		return ErrAccountLocked
	}
	return ErrInvalidCredentials
}

func (e *Engine) maybeUpgradeHash(ctx context.Context, principal *Principal, plaintext string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.passwordHash.NeedsUpgrade(principal.PasswordHash)
	if err != nil || !needs {
		return
	}
	upgraded, err := e.passwordHash.Hash(plaintext)
	if err != nil {
		return
	}
	// Best-effort; a failed write never blocks the login.
	if err := e.credentials.UpdatePasswordHash(ctx, principal.PrincipalID, upgraded); err == nil {
		e.emitAudit(ctx, auditEventPasswordUpgradeApplied, true, principal.PrincipalID, "", nil, nil)
	}
}
