package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/outbox"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the queue to the remote store now",
	Long: `Probe the remote, then replay queued writes in priority order.

Requires a remote URL. Writes that conflict are parked; see 'outbox conflicts'.`,
	Example: `  outbox sync
  outbox sync --json`,
	RunE: runSync,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <collection>",
	Short: "Replace the local mirror of a collection with the remote's records",
	Long: `Fetch every record of a collection from the remote and replace the
confirmed entries of the local mirror. Records with queued writes keep their
local state.`,
	Args: cobra.ExactArgs(1),
	RunE: runRefresh,
}

var syncTimeout time.Duration

func init() {
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 2*time.Minute, "Give up after this long")
	refreshCmd.Flags().DurationVar(&syncTimeout, "timeout", 2*time.Minute, "Give up after this long")
	rootCmd.AddCommand(syncCmd, refreshCmd)
}

var errNoRemote = errors.New("no remote configured (set --remote-url or OUTBOX_REMOTE_URL)")

// probeRemote records the remote's reachability before a one-shot operation.
func (a *app) probeRemote(ctx context.Context) error {
	if a.probe == nil {
		return errNoRemote
	}
	a.probe.Probe(ctx)
	return nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, syncTimeout)
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()
	if err := a.probeRemote(ctx); err != nil {
		return err
	}

	start := time.Now()
	var res *outbox.RunResult
	err = runWithSpinner(cmd.ErrOrStderr(), "Syncing with remote", func() error {
		var err error
		res, err = a.engine.ForceSyncNow(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return outputRun(cmd, res, time.Since(start))
}

func runRefresh(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()
	if err := a.probeRemote(ctx); err != nil {
		return err
	}

	var n int
	err = runWithSpinner(cmd.ErrOrStderr(), "Fetching "+args[0], func() error {
		var err error
		n, err = a.engine.RefreshCollection(ctx, args[0])
		return err
	})
	if err != nil {
		return err
	}

	if outputJSON {
		return outputAsJSON(cmd, map[string]any{"collection": args[0], "records": n})
	}
	printSuccess(cmd.OutOrStdout(), "Refreshed %s: %d records", args[0], n)
	return nil
}
