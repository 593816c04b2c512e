// Command authd serves the authentication core as a standalone HTTP
// daemon: Redis for live security state, SQLite for principals and the
// durable revocation/audit logs, asynq for retention sweeps.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/caremesh/authcore"
	"github.com/caremesh/authcore/credstore"
	"github.com/caremesh/authcore/httpapi"
	"github.com/caremesh/authcore/jobs"
	"github.com/caremesh/authcore/metrics/export/prometheus"
)

func main() {
	logger := log.New(log.Writer(), "authd: ", log.LstdFlags)

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	priv, pub, ephemeral, err := cfg.keyPair()
	if err != nil {
		logger.Fatalf("signing keys: %v", err)
	}
	if ephemeral {
		logger.Println("no signing keys configured; using an ephemeral pair, tokens will not survive a restart")
	}

	csrfKey, err := cfg.csrfKey()
	if err != nil {
		logger.Fatalf("csrf key: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancel()
		logger.Fatalf("redis ping: %v", err)
	}
	cancel()

	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		logger.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	// modernc's sqlite driver serializes writes through one connection.
	db.SetMaxOpenConns(1)

	credentials, err := credstore.NewSQLiteStore(db)
	if err != nil {
		logger.Fatalf("credential store: %v", err)
	}

	auditSink, err := authcore.NewSQLiteAuditSink(db)
	if err != nil {
		logger.Fatalf("audit sink: %v", err)
	}

	engineConfig := authcore.DefaultConfig()
	engineConfig.JWT.PrivateKey = priv
	engineConfig.JWT.PublicKey = pub
	engineConfig.JWT.Issuer = cfg.JWTIssuer
	engineConfig.JWT.Audience = cfg.JWTAudience
	engineConfig.JWT.AccessTTL = cfg.duration(cfg.JWTAccessTTL, engineConfig.JWT.AccessTTL)
	engineConfig.JWT.RefreshTTL = cfg.duration(cfg.JWTRefreshTTL, engineConfig.JWT.RefreshTTL)
	engineConfig.TwoFactor.Issuer = cfg.TwoFactorIssuer
	engineConfig.CSRF.Key = csrfKey
	if engineConfig.Session.Lifetime < engineConfig.JWT.RefreshTTL {
		engineConfig.Session.Lifetime = engineConfig.JWT.RefreshTTL
	}

	engine, err := authcore.New().
		WithConfig(engineConfig).
		WithRedis(redisClient).
		WithRevocationDB(db).
		WithAuditSink(auditSink).
		WithCredentialStore(credentials).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		logger.Fatalf("build engine: %v", err)
	}
	defer engine.Close()

	sweeps, err := jobs.NewManager(jobs.Config{
		RedisURI:       cfg.QueueRedisURI,
		PruneInterval:  cfg.duration(cfg.PruneInterval, time.Hour),
		AuditRetention: cfg.duration(cfg.AuditRetention, 90*24*time.Hour),
	}, engine, auditSink, logger)
	if err != nil {
		logger.Fatalf("jobs manager: %v", err)
	}
	if err := sweeps.Start(); err != nil {
		logger.Fatalf("start sweeps: %v", err)
	}
	defer sweeps.Shutdown()

	router := httpapi.NewRouter(engine, httpapi.Options{
		AllowOrigins: cfg.corsOrigins(),
		Metrics:      prometheus.NewExporter(engine).Handler(),
		GinMode:      cfg.GinMode,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}
}
