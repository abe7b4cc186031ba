package main

import (
	"errors"
	"fmt"

	"github.com/hyperengineering/labsync/internal/snapshot"
	"github.com/hyperengineering/labsync/pkg/labcache"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the local cache and upload it when storage is configured",
	Long: "Write a consistent copy of the local cache, queue included, to backup.dir. " +
		"With backup.storage.bucket set, the copy is also uploaded and a download link printed.",
	Args: cobra.NoArgs,
	RunE: runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	uploader, err := snapshot.NewUploader(cfg.Backup)
	if err != nil {
		return fmt.Errorf("configure backups: %w", err)
	}

	c, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeCache(c)

	path, err := c.Backup(cmd.Context(), cfg.Backup.Dir)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}

	result := map[string]any{"path": path, "uploaded": false}
	if err := uploader.Upload(cmd.Context(), labcache.LocalBackupName, path); err != nil {
		return fmt.Errorf("backup written to %s but upload failed: %w", path, err)
	}
	link, expiry, err := uploader.PresignedURL(cmd.Context(), labcache.LocalBackupName)
	switch {
	case errors.Is(err, snapshot.ErrNotConfigured):
	case err != nil:
		return fmt.Errorf("backup uploaded but no download link: %w", err)
	default:
		result["uploaded"] = true
		result["url"] = link
		result["expiresAt"] = expiry.UTC()
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", path)
	if link != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded; download until %s:\n%s\n", formatTime(expiry), link)
	}
	return nil
}
