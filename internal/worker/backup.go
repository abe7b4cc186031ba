package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/labsync/internal/snapshot"
)

// BackupWorker periodically snapshots a database to disk and uploads the
// copy when an uploader is configured.
type BackupWorker struct {
	source   snapshot.Source
	uploader snapshot.Uploader
	dir      string
	name     string
	interval time.Duration
}

// NewBackupWorker creates a worker writing dir/name.db every interval.
// uploader may be nil, in which case snapshots stay local.
func NewBackupWorker(source snapshot.Source, uploader snapshot.Uploader, dir, name string, interval time.Duration) *BackupWorker {
	if uploader == nil {
		uploader = snapshot.NoopUploader{}
	}
	return &BackupWorker{
		source:   source,
		uploader: uploader,
		dir:      dir,
		name:     name,
		interval: interval,
	}
}

// Run takes a backup immediately, then on each interval, until ctx is
// cancelled.
func (w *BackupWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "backup",
		"action", "worker_started",
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Backup(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "backup",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.Backup(ctx)
		}
	}
}

// Backup takes one snapshot and uploads it. Upload failures are logged
// and do not invalidate the local copy. It returns the snapshot path.
func (w *BackupWorker) Backup(ctx context.Context) (string, error) {
	start := time.Now()
	path, err := snapshot.Take(ctx, w.source, w.dir, w.name)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("backup failed",
				"component", "worker",
				"worker", "backup",
				"action", "backup_failed",
				"name", w.name,
				"error", err,
			)
		}
		return "", err
	}

	if err := w.uploader.Upload(ctx, w.name, path); err != nil {
		slog.Warn("backup upload failed",
			"component", "worker",
			"worker", "backup",
			"action", "backup_upload_failed",
			"name", w.name,
			"path", path,
			"error", err,
		)
		return path, nil
	}

	_, localOnly := w.uploader.(snapshot.NoopUploader)
	slog.Info("backup completed",
		"component", "worker",
		"worker", "backup",
		"action", "backup_complete",
		"name", w.name,
		"path", path,
		"uploaded", !localOnly,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return path, nil
}
