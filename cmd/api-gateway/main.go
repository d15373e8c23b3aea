package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-admission-api/api/swagger"
	"github.com/noah-isme/sma-admission-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-admission-api/internal/middleware"
	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/internal/repository"
	"github.com/noah-isme/sma-admission-api/internal/service"
	"github.com/noah-isme/sma-admission-api/pkg/cache"
	"github.com/noah-isme/sma-admission-api/pkg/config"
	"github.com/noah-isme/sma-admission-api/pkg/database"
	"github.com/noah-isme/sma-admission-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-admission-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-admission-api/pkg/middleware/requestid"
)

// @title Classroom Admission API
// @version 1.0.0
// @description Classroom session admission: sessions, join requests and enrollments
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.RateLimit.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, join rate limiting disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	sessionRepo := repository.NewSessionRepository(db, cfg.Admission.LockTimeout)
	joinRequestRepo := repository.NewJoinRequestRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	standardRepo := repository.NewStandardRepository(db)
	userRepo := repository.NewUserRepository(db)

	identities := service.NewIdentityResolver(userRepo)
	lifecycle := service.NewSessionLifecycle(nil, cfg.Admission.DefaultSessionTTL, cfg.Admission.CodePrefix)

	sessionSvc := service.NewSessionService(sessionRepo, standardRepo, enrollmentRepo, identities, lifecycle, userRepo, validate, logr)
	admissionSvc := service.NewAdmissionService(sessionRepo, joinRequestRepo, identities, lifecycle, userRepo, metricsSvc, logr)
	joinRequestSvc := service.NewJoinRequestService(sessionRepo, joinRequestRepo, enrollmentRepo, identities, lifecycle,
		service.JoinRequestOptions{StrictSubmit: cfg.Admission.StrictSubmit}, userRepo, metricsSvc, validate, logr)
	standardSvc := service.NewStandardService(standardRepo, userRepo, identities, userRepo, validate, logr)
	tokenSvc := service.NewTokenService(cfg.JWT.Secret)

	sweeper := service.NewSweeperService(sessionRepo, lifecycle, service.SweeperConfig{
		Interval:  cfg.Sweeper.Interval,
		Retention: cfg.Sweeper.Retention,
		Workers:   cfg.Sweeper.Workers,
		Retries:   cfg.Sweeper.Retries,
	}, metricsSvc, logr)

	var limiter internalmiddleware.RateLimiter
	if redisClient != nil {
		limiter = cache.NewFixedWindowLimiter(redisClient, cfg.RateLimit.RedisPrefix, cfg.RateLimit.JoinLimit, cfg.RateLimit.JoinWindow)
	}

	sessionHandler := handler.NewSessionHandler(sessionSvc, admissionSvc, joinRequestSvc)
	joinRequestHandler := handler.NewJoinRequestHandler(joinRequestSvc)
	standardHandler := handler.NewStandardHandler(standardSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, map[string]handler.ReadinessCheck{
		"postgres": sessionRepo.Ping,
		"redis": func(ctx context.Context) error {
			return cache.Ping(ctx, redisClient)
		},
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/health", "/ready", "/metrics"))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(tokenSvc))

	managers := internalmiddleware.RBAC(models.RoleSuperAdmin, models.RoleAdmin, models.RoleTeacher)
	admins := internalmiddleware.RBAC(models.RoleSuperAdmin, models.RoleAdmin)

	sessions := api.Group("/sessions")
	sessions.POST("", managers, sessionHandler.Create)
	sessions.GET("", managers, sessionHandler.List)
	sessions.GET("/:id", sessionHandler.Get)
	sessions.POST("/:id/accept-request", managers, sessionHandler.Accept)
	sessions.POST("/:id/reject-request", managers, sessionHandler.Reject)
	sessions.POST("/:id/close", managers, sessionHandler.Close)
	sessions.GET("/:id/requests", managers, sessionHandler.ListRequests)
	sessions.POST("/:id/enrollments/:enrollmentId/deactivate", managers, sessionHandler.RevokeEnrollment)
	sessions.GET("/:id/roster", managers, sessionHandler.ExportRoster)

	joinRequests := api.Group("/join-requests")
	joinRequests.POST("", internalmiddleware.RateLimit(limiter, metricsSvc, logr), joinRequestHandler.Submit)
	joinRequests.GET("/my", joinRequestHandler.ListMine)

	standards := api.Group("/standards")
	standards.POST("", admins, standardHandler.Create)
	standards.GET("", managers, standardHandler.List)
	standards.POST("/:id/assign-teacher", admins, standardHandler.AssignTeacher)

	api.GET("/metrics/summary", admins, metricsHandler.Summary)

	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	if cfg.Sweeper.Enabled {
		sweeper.Start(sweeperCtx)
		defer sweeper.Stop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
