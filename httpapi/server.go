package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/caremesh/authcore"
	"github.com/caremesh/authcore/middleware"
)

// Options configures the HTTP surface.
type Options struct {
	// AllowOrigins lists CORS origins. Empty disables CORS handling.
	AllowOrigins []string
	// Metrics, when set, is mounted at GET /metrics.
	Metrics http.Handler
	// GinMode overrides gin's run mode (debug, release, test).
	GinMode string
}

type server struct {
	engine *authcore.Engine
}

// NewRouter builds the gin router serving the auth API.
func NewRouter(engine *authcore.Engine, opts Options) *gin.Engine {
	if opts.GinMode != "" {
		gin.SetMode(opts.GinMode)
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	if len(opts.AllowOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = opts.AllowOrigins
		corsConfig.AllowCredentials = true
		corsConfig.AllowHeaders = []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			middleware.CSRFHeader,
			middleware.FingerprintHeader,
		}
		corsConfig.ExposeHeaders = []string{middleware.CSRFHeader, "Retry-After"}
		router.Use(cors.New(corsConfig))
	}

	s := &server{engine: engine}

	router.GET("/healthz", s.healthz)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	auth := router.Group("/auth")
	{
		// Pre-session endpoints; no bearer token yet, so no CSRF check.
		auth.POST("/login", s.login)
		auth.POST("/register", s.register)
		auth.POST("/refresh", s.refresh)
		auth.POST("/2fa/verify", s.verifyTwoFactor)
		auth.GET("/captcha", s.captcha)

		protected := auth.Group("")
		protected.Use(requireAuth(engine))
		{
			protected.POST("/logout", s.logout)
			protected.POST("/logout-all", s.logoutAll)
			protected.POST("/password", s.changePassword)
			protected.GET("/sessions", s.sessions)
			protected.DELETE("/sessions/:id", s.invalidateSession)
			protected.POST("/2fa/setup", s.setupTwoFactor)
			protected.POST("/2fa/enable", s.enableTwoFactor)
			protected.POST("/2fa/disable", s.disableTwoFactor)
			protected.POST("/2fa/backup-codes", s.regenerateBackupCodes)
			protected.GET("/devices", s.trustedDevices)
			protected.DELETE("/devices/:fingerprint", s.revokeTrustedDevice)
		}
	}

	return router
}
