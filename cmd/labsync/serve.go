package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/labsync/internal/api"
	"github.com/hyperengineering/labsync/internal/config"
	"github.com/hyperengineering/labsync/internal/remote"
	"github.com/hyperengineering/labsync/internal/remote/sqlstore"
	"github.com/hyperengineering/labsync/internal/snapshot"
	"github.com/hyperengineering/labsync/internal/worker"
	"github.com/spf13/cobra"
)

// remoteBackupName names the server database's snapshots.
const remoteBackupName = "remote"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the shared remote store",
	Long: "Serve the REST API and realtime change feed that offline caches sync " +
		"against, backed by SQLite, Postgres, or memory.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

// openBackend opens the configured remote store. The returned closer may be
// a no-op.
func openBackend(ctx context.Context, sc config.ServerConfig) (remote.Store, io.Closer, error) {
	switch sc.Backend {
	case config.BackendMemory:
		return remote.NewMemoryStore(), io.NopCloser(nil), nil
	case config.BackendPostgres:
		s, err := sqlstore.OpenPostgres(ctx, sc.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.BackendSQLite, "":
		s, err := sqlstore.OpenSQLite(ctx, sc.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", sc.Backend)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(cmd.Context(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	// 2. Initialize store (migrations, WAL mode)
	store, closer, err := openBackend(ctx, cfg.Server)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Server.Backend, err)
	}
	slog.Info("store initialized", "backend", cfg.Server.Backend)

	// 3. Initialize HTTP router, change feed and backups
	hub := api.NewHub()
	handler := api.NewHandler(store, hub, cfg.Auth.APIKey, Version)

	uploader, err := snapshot.NewUploader(cfg.Backup)
	if err != nil {
		closer.Close()
		return fmt.Errorf("configure backups: %w", err)
	}
	var backups *worker.BackupWorker
	if src, ok := store.(snapshot.Source); ok && cfg.Server.Backend == config.BackendSQLite {
		handler.EnableBackups(uploader, remoteBackupName)
		if cfg.Backup.Interval > 0 {
			backups = worker.NewBackupWorker(src, uploader, cfg.Backup.Dir, remoteBackupName, cfg.Backup.Interval.Std())
		}
	}

	router := api.NewRouter(handler)
	slog.Info("router initialized")

	// 4. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	// 5. Workers
	var wg sync.WaitGroup
	startWorker(ctx, &wg, "change-hub", hub.Run)
	if backups != nil {
		startWorker(ctx, &wg, "backup", backups.Run)
	}

	// 6. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is expected after Shutdown; anything else aborts.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 7. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 8. Graceful shutdown: drain requests, stop workers, close store last
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	wg.Wait()
	if err := closer.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
