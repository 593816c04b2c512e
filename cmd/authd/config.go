package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// daemonConfig is the environment-driven configuration of authd. Engine
// policy defaults come from authcore.DefaultConfig; only the knobs a
// deployment actually turns are exposed here.
type daemonConfig struct {
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	GinMode  string `mapstructure:"GIN_MODE"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	QueueRedisURI string `mapstructure:"QUEUE_REDIS_URI"`

	SQLitePath string `mapstructure:"SQLITE_PATH"`

	// JWTPrivateKey and JWTPublicKey are base64 (std) raw ed25519 keys.
	// Empty generates an ephemeral pair; tokens then die on restart.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	JWTPublicKey  string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer     string `mapstructure:"JWT_ISSUER"`
	JWTAudience   string `mapstructure:"JWT_AUDIENCE"`
	JWTAccessTTL  string `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`

	// CSRFKey is a base64 (std) 32+ byte HMAC key. Empty generates an
	// ephemeral key.
	CSRFKey string `mapstructure:"CSRF_KEY"`

	TwoFactorIssuer string `mapstructure:"TWO_FACTOR_ISSUER"`

	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	PruneInterval  string `mapstructure:"PRUNE_INTERVAL"`
	AuditRetention string `mapstructure:"AUDIT_RETENTION"`
}

// loadConfig reads .env (if present), then the environment.
func loadConfig() (*daemonConfig, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8443")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("QUEUE_REDIS_URI", "redis://localhost:6379/1")
	v.SetDefault("SQLITE_PATH", "authd.db")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "caremesh-auth")
	v.SetDefault("JWT_AUDIENCE", "caremesh-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h")
	v.SetDefault("CSRF_KEY", "")
	v.SetDefault("TWO_FACTOR_ISSUER", "caremesh")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("PRUNE_INTERVAL", "1h")
	v.SetDefault("AUDIT_RETENTION", "2160h") // 90d

	var cfg daemonConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if (cfg.JWTPrivateKey == "") != (cfg.JWTPublicKey == "") {
		return nil, errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	}

	return &cfg, nil
}

// keyPair decodes the configured signing keys, or mints an ephemeral
// pair when none are configured.
func (c *daemonConfig) keyPair() (ed25519.PrivateKey, ed25519.PublicKey, bool, error) {
	if c.JWTPrivateKey == "" {
		pub, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, nil, false, err
		}
		return priv, pub, true, nil
	}

	priv, err := base64.StdEncoding.DecodeString(c.JWTPrivateKey)
	if err != nil {
		return nil, nil, false, fmt.Errorf("config: JWT_PRIVATE_KEY: %w", err)
	}
	pub, err := base64.StdEncoding.DecodeString(c.JWTPublicKey)
	if err != nil {
		return nil, nil, false, fmt.Errorf("config: JWT_PUBLIC_KEY: %w", err)
	}
	if len(priv) != ed25519.PrivateKeySize || len(pub) != ed25519.PublicKeySize {
		return nil, nil, false, errors.New("config: ed25519 key sizes are 64/32 bytes")
	}
	return ed25519.PrivateKey(priv), ed25519.PublicKey(pub), false, nil
}

func (c *daemonConfig) csrfKey() ([]byte, error) {
	if c.CSRFKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.CSRFKey)
	if err != nil {
		return nil, fmt.Errorf("config: CSRF_KEY: %w", err)
	}
	return key, nil
}

func (c *daemonConfig) corsOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSAllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *daemonConfig) duration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
