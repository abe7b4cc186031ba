package main

import (
	"errors"
	"fmt"
	"time"

	syncengine "github.com/hyperengineering/labsync/internal/sync"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued changes against the remote now",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity, queue depth and the last sync pass",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var deadLettersCmd = &cobra.Command{
	Use:   "deadletters",
	Short: "Inspect changes that exhausted their retries",
	Args:  cobra.NoArgs,
	RunE:  runDeadLettersList,
}

var deadLettersRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Queue every dead letter again with a fresh retry budget",
	Args:  cobra.NoArgs,
	RunE:  runDeadLettersRetry,
}

var deadLettersClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every dead letter",
	Args:  cobra.NoArgs,
	RunE:  runDeadLettersClear,
}

func init() {
	deadLettersCmd.AddCommand(deadLettersRetryCmd)
	deadLettersCmd.AddCommand(deadLettersClearCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeCache(c)

	err = c.ForceSyncNow(cmd.Context())
	switch {
	case errors.Is(err, syncengine.ErrNoRemote):
		return errors.New("no remote configured (set client.remote_url or LABSYNC_REMOTE_URL)")
	case errors.Is(err, syncengine.ErrOffline):
		return fmt.Errorf("remote unreachable; %d change(s) remain queued", c.PendingSyncCount())
	case err != nil:
		return err
	}

	state := c.SyncState()
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), state)
	}
	r := state.LastPass.LastResult
	fmt.Fprintf(cmd.OutOrStdout(), "Synced %d of %d change(s) in %s; %d failed, %d dead-lettered, %d pending\n",
		r.Succeeded, r.Attempted, r.Duration.Round(time.Millisecond), r.Failed, r.DeadLettered, state.Pending)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeCache(c)

	state := c.SyncState()
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), state)
	}

	mode := "offline"
	switch {
	case state.LocalOnly:
		mode = "local-only"
	case state.Online:
		mode = "online"
	}
	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintf(w, "Mode:\t%s\n", mode)
	fmt.Fprintf(w, "Pending:\t%d\n", state.Pending)
	fmt.Fprintf(w, "Dead letters:\t%d\n", state.DeadLettered)
	fmt.Fprintf(w, "Local cache:\t%s\n", cfg.Client.LocalPath)
	fmt.Fprintf(w, "Remote:\t%s\n", orDash(cfg.Client.RemoteURL))
	return w.Flush()
}

func runDeadLettersList(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeCache(c)

	dead := c.DeadLetters()
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"deadLetters": dead,
			"total":       len(dead),
		})
	}

	if len(dead) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No dead letters.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ITEM\tTABLE\tOP\tENTITY\tATTEMPTS\tDISCARDED\tREASON")
	for _, d := range dead {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			d.Item.ID, d.Item.Table, d.Item.Operation, d.Item.EntityID,
			d.Item.Retries, formatTime(d.DiscardedAt), orDash(d.Reason))
	}
	return w.Flush()
}

func runDeadLettersRetry(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeCache(c)

	n, err := c.RetryDeadLetters()
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"requeued": n})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d change(s)\n", n)
	return nil
}

func runDeadLettersClear(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd.Context())
	if err != nil {
		return err
	}
	defer closeCache(c)

	n := len(c.DeadLetters())
	if err := c.ClearDeadLetters(); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"cleared": n})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d dead letter(s)\n", n)
	return nil
}
