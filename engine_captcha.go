package authcore

import (
	"context"
	"time"

	"github.com/caremesh/authcore/internal"
)

// IssueCaptcha creates a fresh challenge. The caller renders Text as an
// image or audio clip; only CaptchaID and ExpiresAt go to the client.
func (e *Engine) IssueCaptcha(ctx context.Context) (*CaptchaChallenge, error) {
	if e == nil || e.captchaStore == nil {
		return nil, ErrEngineNotReady
	}

	text, err := internal.NewCaptchaText(e.config.Captcha.Length)
	if err != nil {
		return nil, err
	}
	id, err := internal.NewChallengeID()
	if err != nil {
		return nil, err
	}

	if err := e.captchaStore.Save(ctx, id, text, e.config.Captcha.TTL); err != nil {
		return nil, ErrBackendUnavailable
	}

	e.metricInc(MetricCaptchaIssued)
	e.emitAudit(ctx, auditEventCaptchaIssued, true, "", "", nil, nil)

	return &CaptchaChallenge{
		CaptchaID: id,
		Text:      text,
		ExpiresAt: time.Now().Add(e.config.Captcha.TTL),
	}, nil
}
