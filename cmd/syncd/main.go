// Command syncd is the sync server: it serves the HTTP/WebSocket API and
// runs the background chunk-session cleanup sweep.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foldersync/foldersync/internal/server/auth"
	"github.com/foldersync/foldersync/internal/server/chunksession"
	"github.com/foldersync/foldersync/internal/server/config"
	"github.com/foldersync/foldersync/internal/server/contentstore"
	"github.com/foldersync/foldersync/internal/server/httpapi"
	"github.com/foldersync/foldersync/internal/server/metastore"
	"github.com/foldersync/foldersync/internal/server/push"
	"github.com/foldersync/foldersync/internal/server/reconcile"
)

// version is set at build time via ldflags.
var version = "dev"

// cleanupSweepInterval is how often the chunk session manager reclaims
// abandoned and finished upload sessions (component-design.md §4.5).
const cleanupSweepInterval = time.Hour

func main() {
	configPath := flag.String("config", "", "path to server TOML config")
	dbPath := flag.String("db", "./data/syncd.db", "path to the metadata SQLite database")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("syncd " + version)
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(*configPath, *dbPath, logger); err != nil {
		logger.Error("syncd exiting with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath, dbPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := metastore.Open(ctx, dbPath, logger)
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	defer store.Close()

	content := contentstore.New(cfg.Storage.BasePath, logger)

	authSvc := auth.New(store, auth.NewArgon2Hasher(), auth.NewJWTIssuer(cfg.Security.JWTSecret),
		cfg.Security.JWTExpiration(), 7*24*time.Hour, logger)

	hub := push.NewHub(logger)
	go hub.Run()
	defer hub.Stop()

	reconciler := reconcile.New(store, hub, logger)
	chunks := chunksession.New(store, content, cfg.Chunking.MaxConcurrentSessions, cfg.Chunking.SessionTimeout(), logger)

	router := httpapi.NewRouter(httpapi.Deps{
		Store:       store,
		Content:     content,
		Auth:        authSvc,
		Chunks:      chunks,
		Reconciler:  reconciler,
		Hub:         hub,
		Logger:      logger,
		MaxFileSize: cfg.Storage.MaxFileSize,
	})

	go runCleanupSweep(ctx, chunks, logger)

	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("syncd listening", slog.String("addr", cfg.Server.ListenAddr))

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}

		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("syncd shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		return server.Shutdown(shutdownCtx)

	case err := <-serveErr:
		return err
	}
}

// runCleanupSweep runs the chunk session manager's reclaim pass on a fixed
// schedule until ctx is canceled.
func runCleanupSweep(ctx context.Context, chunks *chunksession.Manager, logger *slog.Logger) {
	ticker := time.NewTicker(cleanupSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			logger.Debug("running chunk session cleanup sweep")
			chunks.RunCleanupSweep(ctx)
		}
	}
}
