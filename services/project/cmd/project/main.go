package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"aiscene/internal/ratelimit"
	"aiscene/internal/util"
	"aiscene/pkg/queue"
	"aiscene/pkg/storage"
	"aiscene/services/project/internal/app"
	"aiscene/services/project/internal/config"
	"aiscene/services/project/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey,
		cfg.MinioSecretKey, cfg.MinioBucket, cfg.PublicURLBase, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	dispatcher := queue.NewCeleryDispatcher(redisClient, cfg.QueueName)

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewFixedWindowLimiter(redisClient, "", cfg.RateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:         cfg.DatabaseURL,
		AllowedContentTypes: cfg.AllowedContentTypes,
		BgmURLs:             cfg.BgmURLs,
		BgmAutoSelect:       cfg.BgmAutoSelect,
		Objects:             objects,
		Dispatcher:          dispatcher,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		APIKey:         cfg.APIKey,
		Limiter:        limiter,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	handler := util.WithRequestID(util.WithRequestLog("project",
		util.WithSecurityHeaders(util.WithCORS(httpServer.Router()))))

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("project server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
