package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caremesh/authcore"
)

type tokenPayload struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type loginPayload struct {
	PrincipalID       string        `json:"principalId,omitempty"`
	Role              string        `json:"role,omitempty"`
	SessionID         string        `json:"sessionId,omitempty"`
	Tokens            *tokenPayload `json:"tokens,omitempty"`
	CSRFToken         string        `json:"csrfToken,omitempty"`
	TwoFactorRequired bool          `json:"twoFactorRequired"`
	ChallengeID       string        `json:"challengeId,omitempty"`
}

func loginData(res *authcore.LoginResult) loginPayload {
	if res.TwoFactorRequired {
		return loginPayload{
			TwoFactorRequired: true,
			ChallengeID:       res.ChallengeID,
		}
	}
	return loginPayload{
		PrincipalID: res.PrincipalID,
		Role:        res.Role,
		SessionID:   res.SessionID,
		Tokens: &tokenPayload{
			AccessToken:      res.Tokens.AccessToken,
			RefreshToken:     res.Tokens.RefreshToken,
			AccessExpiresAt:  res.Tokens.AccessExpiresAt,
			RefreshExpiresAt: res.Tokens.RefreshExpiresAt,
		},
		CSRFToken: res.CSRFToken,
	}
}

func (s *server) login(c *gin.Context) {
	var req struct {
		Identifier    string `json:"identifier"`
		Password      string `json:"password"`
		CaptchaID     string `json:"captchaId"`
		CaptchaAnswer string `json:"captchaAnswer"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "malformed request body")
		return
	}

	res, err := s.engine.Login(requestContext(c), authcore.LoginRequest{
		Identifier:    req.Identifier,
		Password:      req.Password,
		CaptchaID:     req.CaptchaID,
		CaptchaAnswer: req.CaptchaAnswer,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, loginData(res))
}

func (s *server) verifyTwoFactor(c *gin.Context) {
	var req struct {
		ChallengeID    string `json:"challengeId"`
		Code           string `json:"code"`
		RememberDevice bool   `json:"rememberDevice"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "malformed request body")
		return
	}

	res, err := s.engine.ConfirmTwoFactorLogin(requestContext(c), req.ChallengeID, req.Code, req.RememberDevice)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, loginData(res))
}

func (s *server) register(c *gin.Context) {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
		Role       string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "malformed request body")
		return
	}

	principal, err := s.engine.Register(requestContext(c), authcore.RegisterRequest{
		Identifier: req.Identifier,
		Password:   req.Password,
		Role:       req.Role,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, gin.H{
		"principalId": principal.PrincipalID,
		"identifier":  principal.Identifier,
		"role":        principal.Role,
	})
}

func (s *server) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "malformed request body")
		return
	}

	res, err := s.engine.Refresh(requestContext(c), req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, loginData(res))
}

func (s *server) logout(c *gin.Context) {
	if err := s.engine.Logout(requestContext(c), accessToken(c)); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"loggedOut": true})
}

func (s *server) logoutAll(c *gin.Context) {
	res := authResult(c)
	if err := s.engine.LogoutAll(requestContext(c), res.PrincipalID); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"loggedOut": true})
}

func (s *server) sessions(c *gin.Context) {
	res := authResult(c)
	infos, err := s.engine.Sessions(requestContext(c), res.PrincipalID, res.SessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]gin.H, 0, len(infos))
	for _, info := range infos {
		out = append(out, gin.H{
			"sessionId":      info.SessionID,
			"ipAddress":      info.IPAddress,
			"userAgent":      info.UserAgent,
			"createdAt":      info.CreatedAt,
			"lastActivityAt": info.LastActivityAt,
			"expiresAt":      info.ExpiresAt,
			"current":        info.Current,
		})
	}
	respondData(c, http.StatusOK, gin.H{"sessions": out})
}

func (s *server) invalidateSession(c *gin.Context) {
	res := authResult(c)
	if err := s.engine.InvalidateSession(requestContext(c), res.PrincipalID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"invalidated": true})
}

func (s *server) setupTwoFactor(c *gin.Context) {
	res := authResult(c)
	setup, err := s.engine.SetupTwoFactor(requestContext(c), res.PrincipalID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{
		"secret":     setup.Secret,
		"otpauthUrl": setup.OTPAuthURL,
	})
}

func (s *server) enableTwoFactor(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "malformed request body")
		return
	}

	res := authResult(c)
	codes, err := s.engine.EnableTwoFactor(requestContext(c), res.PrincipalID, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"backupCodes": codes})
}

func (s *server) disableTwoFactor(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "malformed request body")
		return
	}

	res := authResult(c)
	if err := s.engine.DisableTwoFactor(requestContext(c), res.PrincipalID, req.Code); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"disabled": true})
}

func (s *server) regenerateBackupCodes(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "malformed request body")
		return
	}

	res := authResult(c)
	codes, err := s.engine.RegenerateBackupCodes(requestContext(c), res.PrincipalID, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"backupCodes": codes})
}

func (s *server) changePassword(c *gin.Context) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "malformed request body")
		return
	}

	res := authResult(c)
	if err := s.engine.ChangePassword(requestContext(c), res.PrincipalID, req.CurrentPassword, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"changed": true})
}

func (s *server) trustedDevices(c *gin.Context) {
	res := authResult(c)
	devices, err := s.engine.TrustedDevices(requestContext(c), res.PrincipalID)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]gin.H, 0, len(devices))
	for _, d := range devices {
		out = append(out, gin.H{
			"fingerprintHash": d.FingerprintHash,
			"label":           d.Label,
			"createdAt":       d.CreatedAt,
			"lastUsedAt":      d.LastUsedAt,
			"expiresAt":       d.ExpiresAt,
		})
	}
	respondData(c, http.StatusOK, gin.H{"devices": out})
}

func (s *server) revokeTrustedDevice(c *gin.Context) {
	res := authResult(c)
	if err := s.engine.RevokeTrustedDevice(requestContext(c), res.PrincipalID, c.Param("fingerprint")); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"revoked": true})
}

func (s *server) captcha(c *gin.Context) {
	challenge, err := s.engine.IssueCaptcha(requestContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{
		"captchaId": challenge.CaptchaID,
		"image":     captchaImage(challenge.Text),
		"expiresAt": challenge.ExpiresAt,
	})
}

func (s *server) healthz(c *gin.Context) {
	if err := s.engine.Ping(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"status": "ok"})
}
