package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/caremesh/authcore/internal/stores"
)

// TrustedDevices lists the principal's remembered devices.
func (e *Engine) TrustedDevices(ctx context.Context, principalID string) ([]TrustedDeviceInfo, error) {
	if e == nil || e.trustedDevices == nil {
		return nil, ErrEngineNotReady
	}

	devices, err := e.trustedDevices.List(ctx, principalID)
	if err != nil {
		return nil, ErrBackendUnavailable
	}

	infos := make([]TrustedDeviceInfo, 0, len(devices))
	for _, d := range devices {
		infos = append(infos, TrustedDeviceInfo{
			FingerprintHash: d.FingerprintHash,
			Label:           d.Label,
			CreatedAt:       time.Unix(d.CreatedAt, 0),
			LastUsedAt:      time.Unix(d.LastUsedAt, 0),
			ExpiresAt:       time.Unix(d.ExpiresAt, 0),
		})
	}
	return infos, nil
}

// TrustDevice remembers the context's device fingerprint so future
// logins from it skip the second factor until the trust lapses.
func (e *Engine) TrustDevice(ctx context.Context, principalID, label string) (*TrustedDeviceInfo, error) {
	if e == nil || e.trustedDevices == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.DeviceTrust.Enabled {
		return nil, ErrDeviceNotTrusted
	}

	fingerprint := deviceFingerprintFromContext(ctx)
	if fingerprint == "" {
		return nil, ErrDeviceNotTrusted
	}

	device, err := e.trustedDevices.Trust(ctx, principalID, fingerprint, label, e.config.DeviceTrust.TrustDuration)
	if err != nil {
		return nil, ErrBackendUnavailable
	}

	e.metricInc(MetricDeviceTrusted)
	e.emitAudit(ctx, auditEventDeviceTrusted, true, principalID, "", nil, func() map[string]string {
		return map[string]string{"fingerprint": device.FingerprintHash}
	})

	return &TrustedDeviceInfo{
		FingerprintHash: device.FingerprintHash,
		Label:           device.Label,
		CreatedAt:       time.Unix(device.CreatedAt, 0),
		LastUsedAt:      time.Unix(device.LastUsedAt, 0),
		ExpiresAt:       time.Unix(device.ExpiresAt, 0),
	}, nil
}

// RevokeTrustedDevice drops one remembered device by fingerprint hash.
func (e *Engine) RevokeTrustedDevice(ctx context.Context, principalID, fingerprintHash string) error {
	if e == nil || e.trustedDevices == nil {
		return ErrEngineNotReady
	}

	if err := e.trustedDevices.Revoke(ctx, principalID, fingerprintHash); err != nil {
		if errors.Is(err, stores.ErrTrustedDeviceNotFound) {
			return ErrDeviceNotTrusted
		}
		return ErrBackendUnavailable
	}

	e.metricInc(MetricDeviceTrustRevoked)
	e.emitAudit(ctx, auditEventDeviceTrustRevoked, true, principalID, "", nil, func() map[string]string {
		return map[string]string{"fingerprint": fingerprintHash}
	})
	return nil
}

// RevokeAllTrustedDevices forgets every remembered device.
func (e *Engine) RevokeAllTrustedDevices(ctx context.Context, principalID string) error {
	if e == nil || e.trustedDevices == nil {
		return ErrEngineNotReady
	}

	if err := e.trustedDevices.RevokeAll(ctx, principalID); err != nil {
		return ErrBackendUnavailable
	}

	e.metricInc(MetricDeviceTrustRevoked)
	e.emitAudit(ctx, auditEventDeviceTrustRevoked, true, principalID, "", nil, func() map[string]string {
		return map[string]string{"scope": "all"}
	})
	return nil
}
