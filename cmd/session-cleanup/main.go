package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-admission-api/internal/repository"
	"github.com/noah-isme/sma-admission-api/internal/service"
	"github.com/noah-isme/sma-admission-api/pkg/config"
	"github.com/noah-isme/sma-admission-api/pkg/database"
	"github.com/noah-isme/sma-admission-api/pkg/logger"
)

// session-cleanup runs one sweep pass and exits; intended for cron deployments
// where the in-process sweeper is disabled.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close()

	sessions := repository.NewSessionRepository(db, cfg.Admission.LockTimeout)
	lifecycle := service.NewSessionLifecycle(nil, cfg.Admission.DefaultSessionTTL, cfg.Admission.CodePrefix)
	sweeper := service.NewSweeperService(sessions, lifecycle, service.SweeperConfig{
		Retention: cfg.Sweeper.Retention,
	}, nil, logr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := sweeper.RunOnce(ctx)
	if err != nil {
		logr.Error("session sweep failed", zap.Error(err))
		return
	}
	logr.Info("session sweep finished",
		zap.Int("synced", report.Synced),
		zap.Int("failed", report.Failed),
		zap.Int64("purged", report.Purged),
	)
}
