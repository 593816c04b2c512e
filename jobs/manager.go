package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/caremesh/authcore"
)

const (
	// TaskPrune sweeps expired rows from the revocation and audit logs.
	TaskPrune = "auth:prune"

	queueMaintenance = "maintenance"
)

// AuditPruner removes audit records older than the cutoff.
// *authcore.SQLiteAuditSink implements it.
type AuditPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Config tunes the sweep schedule.
type Config struct {
	// RedisURI is the asynq broker, e.g. "redis://localhost:6379/1".
	RedisURI string
	// PruneInterval is the sweep cadence. Defaults to one hour.
	PruneInterval time.Duration
	// AuditRetention keeps audit rows this long. Defaults to 90 days.
	AuditRetention time.Duration
	// Concurrency bounds the worker pool. Defaults to 2.
	Concurrency int
}

// Manager owns the asynq client, worker server and periodic scheduler
// for the maintenance queue.
type Manager struct {
	engine    *authcore.Engine
	audits    AuditPruner
	client    *asynq.Client
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	retention time.Duration
	interval  time.Duration
	logger    *log.Logger
}

// NewManager wires the sweep machinery. audits may be nil when no
// durable audit sink is configured.
func NewManager(cfg Config, engine *authcore.Engine, audits AuditPruner, logger *log.Logger) (*Manager, error) {
	if engine == nil {
		return nil, errors.New("engine is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURI)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	interval := cfg.PruneInterval
	if interval <= 0 {
		interval = time.Hour
	}
	retention := cfg.AuditRetention
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueMaintenance: 1,
		},
	})
	scheduler := asynq.NewScheduler(opt, nil)

	m := &Manager{
		engine:    engine,
		audits:    audits,
		client:    client,
		server:    server,
		scheduler: scheduler,
		mux:       asynq.NewServeMux(),
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
	m.mux.HandleFunc(TaskPrune, m.handlePrune)
	return m, nil
}

// Start launches the worker pool and registers the periodic sweep. It
// returns once both are running.
func (m *Manager) Start() error {
	spec := fmt.Sprintf("@every %s", m.interval)
	task := asynq.NewTask(TaskPrune, nil, asynq.Queue(queueMaintenance), asynq.MaxRetry(1))
	if _, err := m.scheduler.Register(spec, task); err != nil {
		return fmt.Errorf("register prune schedule: %w", err)
	}

	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logf("worker server stopped: %v", err)
		}
	}()
	go func() {
		if err := m.scheduler.Run(); err != nil {
			m.logf("scheduler stopped: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the scheduler, the worker pool and the client.
func (m *Manager) Shutdown() {
	m.scheduler.Shutdown()
	m.server.Shutdown()
	_ = m.client.Close()
}

// EnqueuePrune triggers an immediate sweep outside the schedule.
func (m *Manager) EnqueuePrune(ctx context.Context) error {
	task := asynq.NewTask(TaskPrune, nil, asynq.Queue(queueMaintenance), asynq.MaxRetry(1))
	_, err := m.client.EnqueueContext(ctx, task)
	return err
}

func (m *Manager) handlePrune(ctx context.Context, _ *asynq.Task) error {
	now := time.Now()

	revoked, err := m.engine.PruneRevocations(ctx, now)
	if err != nil {
		return fmt.Errorf("prune revocations: %w", err)
	}

	var audits int64
	if m.audits != nil {
		audits, err = m.audits.Prune(ctx, now.Add(-m.retention))
		if err != nil {
			return fmt.Errorf("prune audit log: %w", err)
		}
	}

	m.logf("prune sweep done: revocations=%d audits=%d", revoked, audits)
	return nil
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
