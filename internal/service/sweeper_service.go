package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/internal/repository"
	"github.com/noah-isme/sma-admission-api/pkg/jobs"
)

const (
	sweepBatchSize  = 200
	jobTypeSyncSess = "session.sync"
)

type sweeperStore interface {
	ListStale(ctx context.Context, now time.Time, limit int) ([]string, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
	WithinAdmissionTx(ctx context.Context, fn func(repository.AdmissionTx) error) error
}

// SweepReport summarises one sweep pass.
type SweepReport struct {
	Synced int   `json:"synced"`
	Failed int   `json:"failed"`
	Purged int64 `json:"purged"`
}

// SweeperConfig tunes the background sweep.
type SweeperConfig struct {
	Interval  time.Duration
	Retention time.Duration
	Workers   int
	Retries   int
}

// SweeperService persists EXPIRED on sessions nobody touched since expiry and purges
// sessions expired longer than the retention window. Status is always re-derived
// at accept time, so the sweep is housekeeping only.
type SweeperService struct {
	sessions  sweeperStore
	lifecycle *SessionLifecycle
	cfg       SweeperConfig
	metrics   *MetricsService
	logger    *zap.Logger

	queue  *jobs.Queue
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	active bool
}

// NewSweeperService constructs the sweeper.
func NewSweeperService(sessions sweeperStore, lifecycle *SessionLifecycle, cfg SweeperConfig, metrics *MetricsService, logger *zap.Logger) *SweeperService {
	if lifecycle == nil {
		lifecycle = NewSessionLifecycle(nil, 0, "")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	s := &SweeperService{
		sessions:  sessions,
		lifecycle: lifecycle,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
	}
	s.queue = jobs.NewQueue("session-sweeper", s.handleJob, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.Retries,
		RetryDelay: 2 * time.Second,
		Logger:     logger,
		OnResult: func(job jobs.Job, _ time.Duration, err error) {
			if err == nil {
				s.metrics.RecordSweep("synced", 1)
			}
		},
	})
	return s
}

// SyncSession locks one session and persists its derived status.
func (s *SweeperService) SyncSession(ctx context.Context, sessionID string) (models.SessionStatus, error) {
	var status models.SessionStatus
	err := s.sessions.WithinAdmissionTx(ctx, func(tx repository.AdmissionTx) error {
		session, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if _, err := s.lifecycle.Sync(ctx, tx, session); err != nil {
			return err
		}
		status = session.Status
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("sync session %s: %w", sessionID, err)
	}
	return status, nil
}

// RunOnce syncs every stale session and purges long-expired ones synchronously.
func (s *SweeperService) RunOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	ids, err := s.sessions.ListStale(ctx, s.lifecycle.Now(), sweepBatchSize)
	if err != nil {
		return report, err
	}
	for _, id := range ids {
		if _, err := s.SyncSession(ctx, id); err != nil {
			report.Failed++
			s.logger.Warn("session sync failed", zap.String("session_id", id), zap.Error(err))
			continue
		}
		report.Synced++
	}
	s.metrics.RecordSweep("synced", report.Synced)

	purged, err := s.purge(ctx)
	report.Purged = purged
	return report, err
}

// Start launches the ticker and worker pool. Stop must be called to release them.
func (s *SweeperService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.stop = cancel
	s.active = true
	s.queue.Start(runCtx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			s.tick(runCtx)
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	s.logger.Info("session sweeper started", zap.Duration("interval", s.cfg.Interval), zap.Duration("retention", s.cfg.Retention))
}

// Stop halts the ticker and drains workers.
func (s *SweeperService) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.stop()
	s.active = false
	s.mu.Unlock()

	s.wg.Wait()
	s.queue.Stop()
}

func (s *SweeperService) tick(ctx context.Context) {
	ids, err := s.sessions.ListStale(ctx, s.lifecycle.Now(), sweepBatchSize)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("list stale sessions failed", zap.Error(err))
		}
		return
	}
	for _, id := range ids {
		err := s.queue.Enqueue(jobs.Job{ID: id, Key: id, Type: jobTypeSyncSess, Payload: id})
		if errors.Is(err, jobs.ErrDuplicate) {
			continue
		}
		if err != nil {
			return
		}
	}
	if _, err := s.purge(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("purge expired sessions failed", zap.Error(err))
	}
}

func (s *SweeperService) handleJob(ctx context.Context, job jobs.Job) error {
	sessionID, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	_, err := s.SyncSession(ctx, sessionID)
	return err
}

func (s *SweeperService) purge(ctx context.Context) (int64, error) {
	cutoff := s.lifecycle.Now().Add(-s.cfg.Retention)
	purged, err := s.sessions.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.metrics.RecordSweep("purged", int(purged))
		s.logger.Info("purged expired sessions", zap.Int64("count", purged), zap.Time("cutoff", cutoff))
	}
	return purged, nil
}
