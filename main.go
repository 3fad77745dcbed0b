package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"channel-hub/internal/auth"
	"channel-hub/internal/billing"
	"channel-hub/internal/channels"
	"channel-hub/internal/common/logging"
	"channel-hub/internal/config"
	"channel-hub/internal/crypto"
	"channel-hub/internal/handlers"
	"channel-hub/internal/handshake"
	"channel-hub/internal/lifecycle"
	"channel-hub/internal/locks"
	"channel-hub/internal/mentions"
	"channel-hub/internal/providers"
	"channel-hub/internal/redis"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.InitGlobalLogger()
	defer logging.MustSync()
	logger := logging.GetGlobalLogger()

	encryptor, err := crypto.NewConfigEncryptor(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize encryptor: %v", err)
	}

	// Channel store, sqlite by default.
	store, dialect, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize channel store: %v", err)
	}
	defer store.Close()

	// Redis backs the handshake state and the refresh locks; without it
	// both fall back to in-process implementations.
	var states handshake.StateStore
	var lockMgr *locks.Manager
	if cfg.RedisAddress != "" {
		redisClient, err := redis.NewClient(&redis.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDBNumber(),
			PoolSize: cfg.RedisPool(),
		})
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()

		states = handshake.NewRedisStateStore(redisClient)
		lockMgr, err = locks.NewManager(redisClient)
		if err != nil {
			log.Fatalf("Failed to initialize lock manager: %v", err)
		}
	} else {
		logger.Warn("no Redis configured, handshake state is process local")
		states = handshake.NewMemoryStateStore()
	}

	registry := providers.NewRegistry()
	registerProviders(registry)

	billingSvc := billing.NewStaticService(cfg.ChannelQuota(), false)

	dispatcher := lifecycle.NewDispatcher(registry, store, encryptor, lockMgr, logger, lifecycle.Config{
		CallTimeout: cfg.ProviderTimeoutDuration(),
		RefreshWait: cfg.RefreshWaitDuration(),
	})

	coordinator := handshake.NewCoordinator(registry, states, store, billingSvc, encryptor, logger,
		handshake.WithStateTTL(cfg.HandshakeTTLDuration()),
		handshake.WithBillingEnforcement(cfg.BillingEnforced))

	channelSvc := channels.NewService(store, billingSvc, logger)

	mentionCache, err := mentions.InitSQLCache(store.DB(), dialect)
	if err != nil {
		log.Fatalf("Failed to initialize mention cache: %v", err)
	}
	aggregator := mentions.NewAggregator(dispatcher, mentionCache, logger)

	refresher := lifecycle.NewRefresher(dispatcher, store, logger)
	if cfg.RefreshSchedule != "" {
		if err := refresher.Start(cfg.RefreshSchedule); err != nil {
			log.Fatalf("Failed to start refresh sweep: %v", err)
		}
		defer refresher.Stop()
	}

	authHandler := auth.New(cfg.JWTSecret)
	h := handlers.New(coordinator, channelSvc, aggregator, registry, authHandler, logger)

	router := mux.NewRouter()
	h.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server starting", logging.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("server exited")
}

// storeWithDB is what main needs from either store implementation: the
// Store contract plus the raw handle the mention cache shares.
type storeWithDB interface {
	channels.Store
	DB() *sql.DB
}

// registerProviders is where platform plugins are wired in. Concrete
// plugins live outside this core and register here.
func registerProviders(registry *providers.Registry) {
	// Plugins register like:
	//   registry.Register(twitter.New(...))
}

func openStore(cfg *config.Config) (storeWithDB, string, error) {
	switch cfg.DatabaseType {
	case "postgres", "postgresql":
		store, err := channels.InitPostgres(cfg.PostgresDSN)
		return store, "postgres", err
	default:
		store, err := channels.InitSQLite(cfg.DatabasePath)
		return store, "sqlite", err
	}
}
