package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"qrattend/internal/attendance"
	"qrattend/internal/audit"
	"qrattend/internal/auth"
	"qrattend/internal/cloudinary"
	"qrattend/internal/config"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/logger"
	"qrattend/internal/queue"
	"qrattend/internal/store"
	"qrattend/internal/web"
)

func main() {
	cfg := config.Load()
	log := logger.Must(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	for _, name := range cfg.InsecureDefaults() {
		log.Warn("insecure default in use; set it in the environment", zap.String("var", name))
	}
	if cfg.Production() && len(cfg.InsecureDefaults()) > 0 {
		return errors.New("refusing to start in production with default secrets")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	log.Info("database ready", zap.String("dialect", db.Dialect))

	admins := auth.NewAuthenticator(auth.NewAdminRepository(db.Client), cfg.AdminUsername, log)
	if err := admins.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	health := map[string]web.HealthCheck{"db": db.Healthy}
	var limiter httpmiddleware.Limiter = httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	if redisClient != nil {
		health["redis"] = redisClient.Healthy
		limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
	}

	events := audit.NewRepository(db.Client)
	var q queue.Queue
	if cfg.QueueBackend == "redis" && redisClient != nil {
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
		log.Info("scan events go to redis; run cmd/worker to persist them")
	} else {
		mem := queue.NewInMemory(1024)
		q = mem
		go func() {
			if err := audit.Consume(ctx, mem, events, log.Named("audit")); err != nil {
				log.Error("audit consumer stopped", zap.Error(err))
			}
		}()
	}

	deps := web.Deps{
		Attendance: attendance.NewService(attendance.NewRepository(db.Client), log.Named("attendance")),
		Admins:     admins,
		Audit:      audit.NewPublisher(q, log),
		ScanEvents: events,
		Limiter:    limiter,
		Health:     health,
		Log:        log,
		Config: web.Config{
			SessionSecret: cfg.SessionSecret,
			JWTIssuer:     cfg.JWTIssuer,
			AdminTokenTTL: cfg.AdminTokenTTL,
			CookieSecure:  cfg.CookieSecure,
			PublicBaseURL: cfg.PublicBaseURL,
			QRSize:        cfg.QRSize,

			TrustedProxies: cfg.TrustedProxies,
		},
	}
	// Cloudinary client (unset when not configured)
	if cfg.CloudinaryEnabled() {
		deps.CDN = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	}

	r, err := web.NewRouter(deps)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}

	log.Info("server exited")
	return nil
}
