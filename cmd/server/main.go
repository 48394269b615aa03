package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/one-time-login-api/api/swagger"
	"github.com/noah-isme/one-time-login-api/pkg/cache"
	"github.com/noah-isme/one-time-login-api/pkg/config"
	"github.com/noah-isme/one-time-login-api/pkg/database"
	"github.com/noah-isme/one-time-login-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/one-time-login-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/one-time-login-api/pkg/middleware/requestid"

	"github.com/noah-isme/one-time-login-api/internal/handler"
	"github.com/noah-isme/one-time-login-api/internal/middleware"
	"github.com/noah-isme/one-time-login-api/internal/models"
	"github.com/noah-isme/one-time-login-api/internal/repository"
	"github.com/noah-isme/one-time-login-api/internal/scheduler"
	"github.com/noah-isme/one-time-login-api/internal/service"
)

// @title One-Time Login API
// @version 0.1.0
// @description Issues and validates one-time login URLs
// @BasePath /
// @schemes http

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
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, lifecycle events disabled", zap.Error(err))
		redisClient = nil
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(userRepo)
	cleanupRepo := repository.NewCleanupRepository(db)

	metricsSvc := service.NewMetricsService()
	eventSvc := service.NewEventService(redisClient, logr)

	sched := scheduler.New(cleanupRepo, scheduler.Config{
		PollInterval: cfg.Scheduler.PollInterval,
		Logger:       logr,
	})

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})

	tokenSvc := service.NewTokenService(tokenRepo, userRepo, sched, eventSvc, metricsSvc, logr, service.TokenConfig{
		BaseURL:           cfg.Login.BaseURL,
		LoginPath:         cfg.Login.Path,
		DefaultRedirect:   cfg.Login.DefaultRedirect,
		CleanupIncludeNew: cfg.Login.CleanupIncludeNew,
	})
	sched.SetPruner(tokenSvc)

	if cfg.Scheduler.Enabled {
		sched.Start(context.Background())
		defer sched.Stop()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	if cfg.Scheduler.Opportunistic {
		r.Use(middleware.Cron(sched, logr))
	}

	loginHandler := handler.NewLoginHandler(tokenSvc, authSvc, cfg.JWT.CookieName)
	tokenHandler := handler.NewTokenHandler(tokenSvc, validate)
	authHandler := handler.NewAuthHandler(authSvc)

	r.GET(cfg.Login.Path, middleware.OptionalJWT(authSvc, cfg.JWT.CookieName), loginHandler.Handle)

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)
	api.GET("/auth/me", middleware.JWT(authSvc, cfg.JWT.CookieName), authHandler.Me)

	admin := api.Group("/users",
		middleware.JWT(authSvc, cfg.JWT.CookieName),
		middleware.RequireRole(models.RoleAdmin, models.RoleSuperAdmin),
	)
	admin.POST("/:id/login-urls", tokenHandler.Issue)
	admin.GET("/:id/login-urls", tokenHandler.List)
	admin.DELETE("/:id/login-urls", tokenHandler.Prune)
	admin.POST("/:id/login-urls/export", tokenHandler.Export)

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
