package authcore

import (
	"context"
	"time"
)

// Sessions lists the principal's active sessions. currentSessionID, when
// non-empty, marks the caller's own session in the result.
func (e *Engine) Sessions(ctx context.Context, principalID, currentSessionID string) ([]SessionInfo, error) {
	if e == nil || e.sessionStore == nil {
		return nil, ErrEngineNotReady
	}

	ids, err := e.sessionStore.ActiveSessionIDs(ctx, principalID)
	if err != nil {
		return nil, ErrBackendUnavailable
	}
	if len(ids) == 0 {
		return nil, nil
	}

	sessions, err := e.sessionStore.GetManyReadOnly(ctx, ids)
	if err != nil {
		return nil, ErrBackendUnavailable
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		if sess.PrincipalID != principalID {
			continue
		}
		infos = append(infos, SessionInfo{
			SessionID:      sess.SessionID,
			IPAddress:      sess.IPAddress,
			UserAgent:      sess.UserAgent,
			CreatedAt:      time.Unix(sess.CreatedAt, 0),
			LastActivityAt: time.Unix(sess.LastActivityAt, 0),
			ExpiresAt:      time.Unix(sess.ExpiresAt, 0),
			Current:        sess.SessionID == currentSessionID,
		})
	}
	return infos, nil
}

// InvalidateSession force-ends one of the principal's sessions, for the
// "sign out that device" flow. The session must belong to the principal.
func (e *Engine) InvalidateSession(ctx context.Context, principalID, sessionID string) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}

	sess, err := e.sessionStore.Get(ctx, sessionID)
	if err != nil {
		return ErrSessionInvalid
	}
	if sess.PrincipalID != principalID {
		return ErrSessionInvalid
	}

	if err := e.sessionStore.Delete(ctx, sessionID); err != nil {
		return ErrBackendUnavailable
	}

	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditEventSessionInvalidated, true, principalID, sessionID, nil, nil)
	return nil
}
