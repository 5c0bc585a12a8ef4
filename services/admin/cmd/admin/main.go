package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"aiscene/internal/util"
	"aiscene/pkg/queue"
	"aiscene/services/admin/internal/app"
	"aiscene/services/admin/internal/config"
	"aiscene/services/admin/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	tokenTTL, err := config.ParseTokenTTL(cfg.TokenTTL)
	if err != nil {
		log.Fatalf("failed to parse token TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var redisClient *redis.Client
	var dispatcher queue.Dispatcher
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		dispatcher = queue.NewCeleryDispatcher(redisClient, cfg.QueueName)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:       cfg.DatabaseURL,
		JWTSecret:         cfg.JWTSecret,
		TokenTTL:          tokenTTL,
		ProjectServiceURL: cfg.ProjectServiceURL,
		Redis:             redisClient,
		Dispatcher:        dispatcher,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	if cfg.DefaultAdminUser != "" && cfg.DefaultAdminPass != "" {
		created, err := appCore.EnsureDefaultAdmin(cfg.DefaultAdminUser, cfg.DefaultAdminPass)
		if err != nil {
			log.Fatalf("failed to bootstrap default admin: %v", err)
		}
		if created {
			slog.Info("default admin account created", "username", cfg.DefaultAdminUser)
		}
	}

	httpServer := server.New(server.Config{App: appCore})

	handler := util.WithRequestID(util.WithRequestLog("admin",
		util.WithSecurityHeaders(util.WithCORS(httpServer.Router()))))

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("admin server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
