package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caremesh/authcore"
	"github.com/caremesh/authcore/middleware"
)

const (
	ctxKeyAuthResult  = "authcore.result"
	ctxKeyAccessToken = "authcore.token"
)

// requestContext copies client metadata onto the request context so the
// engine can rate limit, audit and match trusted devices.
func requestContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	ctx = authcore.WithClientIP(ctx, c.ClientIP())
	ctx = authcore.WithUserAgent(ctx, c.Request.UserAgent())
	if fp := c.GetHeader(middleware.FingerprintHeader); fp != "" {
		ctx = authcore.WithDeviceFingerprint(ctx, fp)
	}
	return ctx
}

// requireAuth validates the bearer token and, on unsafe methods, the
// CSRF token. The AuthResult and raw access token land on the gin
// context for the handler.
func requireAuth(engine *authcore.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, envelope{
				Success:   false,
				Error:     &apiError{Code: "UNAUTHORIZED", Message: "missing bearer token"},
				Timestamp: time.Now().UTC(),
			})
			return
		}

		ctx := requestContext(c)

		var res *authcore.AuthResult
		var err error
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			res, err = engine.ValidateAccess(ctx, token)
		default:
			res, err = engine.ValidateWithCSRF(ctx, token, c.GetHeader(middleware.CSRFHeader))
		}
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}

		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead && c.Request.Method != http.MethodOptions {
			if rotated, err := engine.CSRFToken(res.SessionID); err == nil {
				c.Header(middleware.CSRFHeader, rotated)
			}
		}

		c.Set(ctxKeyAuthResult, res)
		c.Set(ctxKeyAccessToken, token)
		c.Next()
	}
}

func authResult(c *gin.Context) *authcore.AuthResult {
	res, _ := c.MustGet(ctxKeyAuthResult).(*authcore.AuthResult)
	return res
}

func accessToken(c *gin.Context) string {
	token, _ := c.MustGet(ctxKeyAccessToken).(string)
	return token
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) || len(value) == len(bearer) {
		return "", false
	}
	return value[len(bearer):], true
}
