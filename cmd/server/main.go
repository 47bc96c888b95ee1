// PearDrive Server
//
// Features:
// - Prometheus metrics & structured logging (zap)
// - Authenticated file and folder downloads
// - Folder bundling with decrypted names and a hard size guard
// - Share links with view budgets
// - Duplex websocket delivery channel
package main

import (
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/peardrive/peardrive/internal/api"
	"github.com/peardrive/peardrive/internal/auth"
	"github.com/peardrive/peardrive/internal/bridge"
	"github.com/peardrive/peardrive/internal/catalog"
	"github.com/peardrive/peardrive/internal/config"
	"github.com/peardrive/peardrive/internal/crypto"
	"github.com/peardrive/peardrive/internal/logging"
	"github.com/peardrive/peardrive/internal/metrics"
	"github.com/peardrive/peardrive/internal/retrieval"
	"github.com/peardrive/peardrive/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("PearDrive Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	// Initialize PostgreSQL
	logging.Info("connecting to PostgreSQL...")
	store, err := catalog.New(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	// Run migrations
	migrationsDir := findMigrationsDir()
	if migrationsDir != "" {
		logging.Info("running migrations...", zap.String("dir", migrationsDir))
		if err := store.Migrate(migrationsDir); err != nil {
			logging.Fatal("migration failed", zap.Error(err))
		}
	}

	// Initialize auth
	authHandler := auth.New(store.DB(), cfg.JWTSecret)

	// Initialize bridge client
	bridgeClient := bridge.NewS3Client(bridge.Config{
		Endpoint: cfg.BridgeEndpoint,
		Region:   cfg.BridgeRegion,
	})

	// Initialize the download pipeline
	names := crypto.NewNameCipher(cfg.CryptSecret)
	staging := retrieval.NewStagingManager(cfg.StagingDir)
	pipeline := retrieval.NewService(store, bridgeClient, names, staging, cfg.FetchConcurrency)
	logging.Info("download pipeline initialized",
		zap.String("staging", cfg.StagingDir),
		zap.Int("fetch_concurrency", cfg.FetchConcurrency))

	// Channel transport shares the pipeline with the HTTP surface
	hub := ws.NewHub(store, pipeline, names, authHandler)

	srv := api.NewServer(store, pipeline, bridgeClient, names, authHandler, hub)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		httpServer.Close()
		metricsServer.Close()
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
	logging.Info("server stopped")
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
