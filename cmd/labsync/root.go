package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/hyperengineering/labsync/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var (
	configPath string
	jsonOutput bool

	// cfg is loaded once per invocation by the root pre-run hook.
	cfg *config.Config
	// logCloser releases the rotating log file, if one is open.
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "labsync",
	Short: "LabSync - offline-first lab data cache",
	Long: "Manage the local lab cache (staff, tests, logins) and its sync queue, " +
		"or run the shared remote store with `labsync serve`.",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
			logCloser = nil
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (overrides LABSYNC_CONFIG_PATH)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(staffCmd)
	rootCmd.AddCommand(testsCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(deadLettersCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(backupCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closer := newLogger(cfg.Log, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	logCloser = closer
	return nil
}

// newLogger builds the process logger. With a log file configured, output
// goes to a size-rotated file; otherwise to w.
func newLogger(lc config.LogConfig, w io.Writer) (*slog.Logger, io.Closer) {
	var closer io.Closer
	if lc.File != "" {
		lj := &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAgeDays,
			Compress:   true,
		}
		w, closer = lj, lj
	}

	opts := &slog.HandlerOptions{Level: parseLogLevel(lc.Level)}
	var h slog.Handler
	if strings.EqualFold(lc.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h), closer
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
