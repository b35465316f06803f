package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/multiorder/shopsync/pkg/config"
	"github.com/multiorder/shopsync/pkg/etsy"
	"github.com/multiorder/shopsync/pkg/store"
	"github.com/multiorder/shopsync/pkg/syncer"
	"github.com/multiorder/shopsync/pkg/syncstate"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to configuration file")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting shop receipt sync worker")

	// Initialize document store
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDB.URI))
	cancel()
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer mongoClient.Disconnect(context.Background())
	receiptStore := store.NewStore(
		store.NewMongoDriver(mongoClient.Database(cfg.MongoDB.Database)), logger)
	logger.Info("Document store connection established")

	// Initialize key-value sync state
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	stateStore := syncstate.NewStore(syncstate.NewRedisKV(redisClient))

	// Initialize platform client and sync engine
	etsyClient := etsy.NewClient(&cfg.Etsy, logger)
	shopSyncer := syncer.New(etsyClient, stateStore, receiptStore, logger)

	engine := syncer.NewEngine(shopSyncer, &cfg.Sync, logger)
	engine.Start()
	defer engine.Stop()

	// Setup HTTP server for the sync trigger, status and metrics
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics enabled")
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sync/{connectionID}", handleTriggerSync(shopSyncer, logger))
		r.Get("/sync/{connectionID}", handleSyncStatus(stateStore, logger))
	})

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("address", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, gracefully shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	logger.Info("Sync worker stopped")
}

func handleTriggerSync(shopSyncer *syncer.Syncer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connectionID := chi.URLParam(r, "connectionID")
		// The cycle outlives the request, like the original background task.
		go func() {
			outcome := shopSyncer.SyncShop(context.Background(), connectionID)
			logger.Info("Triggered sync finished",
				zap.String("connection_id", connectionID),
				zap.String("outcome", string(outcome)))
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"connection_id": connectionID,
			"status":        "scheduled",
		}); err != nil {
			logger.Error("Failed to encode response", zap.Error(err))
		}
	}
}

func handleSyncStatus(stateStore *syncstate.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connectionID := chi.URLParam(r, "connectionID")

		running, err := stateStore.IsRunning(r.Context(), connectionID)
		if err != nil {
			logger.Error("Failed to read run flag", zap.Error(err))
			http.Error(w, "Failed to read sync state", http.StatusInternalServerError)
			return
		}
		lastUpdated, err := stateStore.LastUpdated(r.Context(), connectionID)
		if err != nil {
			logger.Error("Failed to read watermark", zap.Error(err))
			http.Error(w, "Failed to read sync state", http.StatusInternalServerError)
			return
		}
		deferred, err := stateStore.UnpaidReceipts(r.Context(), connectionID)
		if err != nil {
			logger.Error("Failed to read deferred receipts", zap.Error(err))
			http.Error(w, "Failed to read sync state", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"connection_id":  connectionID,
			"is_running":     running,
			"last_updated":   lastUpdated,
			"deferred_count": len(deferred),
		}); err != nil {
			logger.Error("Failed to encode response", zap.Error(err))
		}
	}
}
