package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/smartmed/interaction-engine/internal/alerting"
	"github.com/smartmed/interaction-engine/internal/api"
	"github.com/smartmed/interaction-engine/internal/checking"
	"github.com/smartmed/interaction-engine/internal/config"
	"github.com/smartmed/interaction-engine/internal/knowledge"
	"github.com/smartmed/interaction-engine/internal/notifications"
	"github.com/smartmed/interaction-engine/internal/storage"
	"github.com/smartmed/interaction-engine/internal/sweep"
)

// engineStore is what main needs from a backing store: user profiles
// plus sweep report archival.
type engineStore interface {
	storage.ProfileStore
	storage.ReportStore
}

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting interaction engine")

	// Initialize storage
	store, err := buildStore(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize storage: %v", err)
	}

	// Initialize knowledge sources
	resolver, err := buildResolver(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize knowledge sources: %v", err)
	}

	// Initialize services
	checker := checking.NewService(resolver, cfg.MaxConcurrentLookups)
	dispatcher := notifications.NewService(cfg)
	alerts := alerting.NewService(store, dispatcher, cfg.AlertThreshold)

	// Initialize sweep coordinator
	coordinator := sweep.NewCoordinator(cfg, store, store, checker, alerts, dispatcher)
	if err := coordinator.Start(); err != nil {
		logrus.Fatalf("Failed to start sweep coordinator: %v", err)
	}
	defer coordinator.Stop()

	// Set up HTTP server
	apiServer := api.NewServer(cfg, checker, resolver, alerts, store, coordinator)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}

func buildStore(cfg *config.Config) (engineStore, error) {
	if cfg.StorageAccount == "" {
		logrus.Warn("AZURE_STORAGE_ACCOUNT not set, using in-memory store (data is not persisted)")
		return storage.NewMemoryStore(), nil
	}
	return storage.NewAzureStore(cfg.StorageAccount, cfg.StorageContainer)
}

// buildResolver composes the knowledge sources in priority order:
// the code-keyed RxNav client first, the name-keyed reference table
// as fallback.
func buildResolver(cfg *config.Config) (*knowledge.Resolver, error) {
	var sources []knowledge.Source

	if cfg.EnableRxNav {
		sources = append(sources, knowledge.NewRxNavSource(cfg.RxNavBaseURL, cfg.RxNavTimeout))
	} else {
		logrus.Info("RxNav lookups disabled")
	}

	static, err := knowledge.NewStaticSource(cfg.ReferenceDataPath)
	if err != nil {
		return nil, err
	}
	sources = append(sources, static)

	return knowledge.NewResolver(sources, cfg.LookupRetries, cfg.LookupBackoff), nil
}
