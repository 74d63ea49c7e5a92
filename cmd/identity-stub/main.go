package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/myeganeh2876/MomentumPasskeyTest/adapters/store"
	"github.com/myeganeh2876/MomentumPasskeyTest/internal/logging"
	"github.com/myeganeh2876/MomentumPasskeyTest/internal/stubidp"
	"github.com/myeganeh2876/MomentumPasskeyTest/ports"
)

func main() {
	cfg, err := stubidp.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	// Revoked refresh tokens go to Redis when configured so restarts keep them
	var revoked ports.Store = store.NewMemoryStore()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Failed to parse Redis URL", zap.Error(err))
		}
		redisStore := store.NewRedisStore(redis.NewClient(opts), "identity-stub")
		defer redisStore.Close()
		revoked = redisStore
	}

	if !cfg.LogDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}
	server, err := stubidp.New(cfg, revoked, logger)
	if err != nil {
		logger.Fatal("Failed to create identity stub", zap.Error(err))
	}

	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
}
