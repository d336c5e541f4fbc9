package main

import (
	"fmt"

	"github.com/hyperengineering/outbox"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List queued writes in processing order",
	RunE:  runQueue,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state and metrics",
	RunE:  runStatus,
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List writes the remote rejected as conflicts",
	RunE:  runConflicts,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Resolve a conflict",
	Long: `Resolve a conflict.

  retry  requeue the write unchanged
  skip   drop the write and keep the local mirror as is
  force  requeue the write with the payload given in --data`,
	Example: `  outbox resolve 01J... --action skip
  outbox resolve 01J... --action force --data '{"title":"Renamed"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

var retryCmd = &cobra.Command{
	Use:   "retry [item-id]",
	Short: "Requeue writes that exhausted their retries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRetry,
}

var (
	queueStatus   string
	resolveAction string
	resolveData   string
	retryAll      bool
)

func init() {
	queueCmd.Flags().StringVar(&queueStatus, "status", "", "Only show items with this status (pending, syncing, conflict, failed)")
	resolveCmd.Flags().StringVar(&resolveAction, "action", "", "retry, skip or force (required)")
	resolveCmd.Flags().StringVar(&resolveData, "data", "", "Replacement payload for force, as a JSON object")
	_ = resolveCmd.MarkFlagRequired("action")
	retryCmd.Flags().BoolVar(&retryAll, "all", false, "Requeue every failed write")

	rootCmd.AddCommand(queueCmd, statusCmd, conflictsCmd, resolveCmd, retryCmd)
}

func runQueue(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	items := a.engine.QueueSnapshot()
	if queueStatus != "" {
		filtered := items[:0]
		for _, item := range items {
			if string(item.Status) == queueStatus {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	return outputQueue(cmd, items)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return outputStatus(cmd, a.engine.SyncStatus())
}

func runConflicts(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return outputConflicts(cmd, a.engine.Conflicts())
}

func runResolve(cmd *cobra.Command, args []string) error {
	var d outbox.Decision
	switch resolveAction {
	case "retry":
		d = outbox.Retry()
	case "skip":
		d = outbox.Skip()
	case "force":
		if resolveData == "" {
			return fmt.Errorf("--data is required with --action force")
		}
		payload, err := parsePayload(resolveData)
		if err != nil {
			return err
		}
		d = outbox.Force(payload)
	default:
		return fmt.Errorf("--action must be retry, skip or force")
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.ResolveConflict(args[0], d); err != nil {
		return err
	}
	if outputJSON {
		return outputAsJSON(cmd, map[string]string{"conflict": args[0], "action": string(d.Action)})
	}
	printSuccess(cmd.OutOrStdout(), "Conflict %s resolved with %s", args[0], d.Action)
	return nil
}

func runRetry(cmd *cobra.Command, args []string) error {
	if !retryAll && len(args) == 0 {
		return fmt.Errorf("give an item id or --all")
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	n := 1
	if retryAll {
		n = a.engine.RetryAllFailed()
	} else if err := a.engine.RetryFailed(args[0]); err != nil {
		return err
	}

	if outputJSON {
		return outputAsJSON(cmd, map[string]int{"requeued": n})
	}
	printSuccess(cmd.OutOrStdout(), "Requeued %d failed writes", n)
	return nil
}
