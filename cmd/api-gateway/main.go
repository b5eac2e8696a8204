package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/account-api/api/swagger"
	"github.com/noah-isme/account-api/internal/credential"
	"github.com/noah-isme/account-api/internal/handler"
	"github.com/noah-isme/account-api/internal/middleware"
	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/internal/repository"
	"github.com/noah-isme/account-api/internal/service"
	"github.com/noah-isme/account-api/pkg/cache"
	"github.com/noah-isme/account-api/pkg/config"
	"github.com/noah-isme/account-api/pkg/database"
	"github.com/noah-isme/account-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/account-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/account-api/pkg/middleware/requestid"
	"github.com/noah-isme/account-api/pkg/storage"
	"github.com/noah-isme/account-api/pkg/token"
)

// @title Account API
// @version 1.0.0
// @description Account, session and credential lockout service
// @BasePath /api/v1
// @schemes http https
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
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, running without cross-replica coordination", zap.Error(err))
		redisClient = nil
	}
	coordination := repository.NewCoordinationRepository(redisClient, logr)
	defer coordination.Close() //nolint:errcheck

	avatars, err := storage.NewLocalStorage(cfg.Avatars.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare avatar storage", zap.Error(err))
	}

	app := buildApp(cfg, db, coordination, avatars, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app.activity.Start(ctx)
	if cfg.Cleanup.Enabled {
		app.scheduler.Start(ctx, cfg.Cleanup.Interval)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server forced to shutdown", zap.Error(err))
	}
	app.scheduler.Stop()
	app.activity.Stop()
	logr.Info("server exited")
}

type application struct {
	router    *gin.Engine
	scheduler *service.CleanupScheduler
	activity  *service.ActivityRecorder
}

func buildApp(cfg *config.Config, db *sqlx.DB, coordination *repository.CoordinationRepository, avatars *storage.LocalStorage, logr *zap.Logger) *application {
	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	issuer := token.NewIssuer(cfg.Auth.AccessTokenSecret, cfg.Auth.FingerprintSecret, cfg.Auth.Issuer)

	activity := service.NewActivityRecorder(sessionRepo, coordination, service.ActivityRecorderConfig{
		Debounce:     cfg.Activity.Debounce,
		Workers:      cfg.Activity.Workers,
		BufferSize:   cfg.Activity.BufferSize,
		StoreTimeout: cfg.Auth.StoreTimeout,
	}, metricsSvc, logr)

	sessions := service.NewSessionManager(sessionRepo, userRepo, userRepo, issuer, activity, metricsSvc, service.SessionManagerConfig{
		AccessTokenTTL:    cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL:   cfg.Auth.RefreshTokenTTL,
		RefreshReuseGrace: cfg.Auth.RefreshReuseGrace,
		StoreTimeout:      cfg.Auth.StoreTimeout,
	}, logr)

	credentials := service.NewCredentialService(userRepo, credential.Policy{
		Threshold: cfg.Auth.LockThreshold,
		Duration:  cfg.Auth.LockDuration,
	}, cfg.Auth.StoreTimeout, metricsSvc, logr)

	authSvc := service.NewAuthService(userRepo, sessions, credentials, validate, metricsSvc, logr, service.AuthConfig{
		BcryptCost:          cfg.Auth.BcryptCost,
		MinPasswordLength:   cfg.Auth.MinPasswordLength,
		RegistrationEnabled: cfg.Auth.RegistrationActive,
		StoreTimeout:        cfg.Auth.StoreTimeout,
	})
	userSvc := service.NewUserService(userRepo, sessions, credentials, validate, logr, cfg.Auth.BcryptCost, cfg.Auth.StoreTimeout)
	profileSvc := service.NewProfileService(userRepo, avatars, validate, logr, service.ProfileConfig{
		MaxAvatarBytes: cfg.Avatars.MaxFileSizeBytes,
		AllowedMIMEs:   cfg.Avatars.AllowedMIMEs,
		StoreTimeout:   cfg.Auth.StoreTimeout,
	})

	scheduler := service.NewCleanupScheduler(sessionRepo, userRepo, coordination, service.CleanupConfig{
		BatchSize:         cfg.Cleanup.BatchSize,
		InactiveRetention: cfg.Cleanup.InactiveRetention,
		StaleLockGrace:    cfg.Cleanup.StaleLockGrace,
		LeaseKey:          cfg.Cleanup.LeaseKey,
		StoreTimeout:      cfg.Auth.StoreTimeout,
	}, metricsSvc, logr)

	cookies := middleware.CookieOptions{
		Domain:   cfg.Cookies.Domain,
		Path:     cfg.Cookies.Path,
		Secure:   cfg.Cookies.Secure,
		SameSite: middleware.ParseSameSite(cfg.Cookies.SameSite),
	}
	gate := middleware.NewGate(sessions, cookies, logr)

	authHandler := handler.NewAuthHandler(authSvc, sessions, cookies)
	sessionHandler := handler.NewSessionHandler(sessions)
	userHandler := handler.NewUserHandler(userSvc)
	profileHandler := handler.NewProfileHandler(profileSvc, cfg.Avatars.MaxFileSizeBytes)
	adminHandler := handler.NewAdminSessionHandler(scheduler)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
		"redis":    coordination.Ping,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc, "/metrics", "/health", "/ready"))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", gate.Required(), authHandler.Logout)
	auth.POST("/logout-all", gate.Required(), authHandler.LogoutAll)
	auth.GET("/me", gate.Required(), authHandler.Me)
	auth.POST("/change-password", gate.Required(), authHandler.ChangePassword)

	secured := api.Group("")
	secured.Use(gate.Required())

	secured.GET("/sessions", sessionHandler.ListMine)
	secured.DELETE("/sessions/:id", sessionHandler.RevokeMine)

	secured.GET("/profile", profileHandler.Get)
	secured.PUT("/profile", profileHandler.Update)
	secured.POST("/profile/avatar", profileHandler.UploadAvatar)
	secured.GET("/profile/avatar", profileHandler.Avatar)

	admins := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)

	users := secured.Group("/users")
	users.GET("", admins, userHandler.List)
	users.POST("", admins, userHandler.Create)
	users.GET("/:id", middleware.RBAC(string(models.RoleSuperAdmin), string(models.RoleAdmin), middleware.SelfAccess), userHandler.Get)
	users.PUT("/:id", admins, userHandler.Update)
	users.DELETE("/:id", admins, userHandler.Delete)
	users.POST("/:id/unlock", admins, userHandler.Unlock)
	users.GET("/:id/sessions", admins, sessionHandler.ListForUser)
	users.DELETE("/:id/sessions", admins, sessionHandler.RevokeAllForUser)

	adminGroup := secured.Group("/admin", admins)
	adminGroup.GET("/metrics", metricsHandler.Snapshot)
	adminGroup.GET("/sessions/stats", adminHandler.Stats)
	adminGroup.GET("/sessions/cleanup/status", adminHandler.Status)
	cleanupAudit := middleware.Audit(userRepo, logr, models.AuditActionSessionCleanup, models.AuditResourceSessions)
	adminGroup.POST("/sessions/cleanup", cleanupAudit, adminHandler.Cleanup)
	adminGroup.POST("/sessions/cleanup/force", cleanupAudit, adminHandler.ForceCleanup)

	return &application{router: r, scheduler: scheduler, activity: activity}
}
