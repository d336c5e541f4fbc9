package main

import (
	"encoding/json"
	"fmt"

	"github.com/hyperengineering/outbox"
	"github.com/spf13/cobra"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a write for the remote store",
	Long: `Queue a create, update or delete. The write is applied to the local
mirror immediately and replayed to the remote on the next sync.`,
	Example: `  outbox enqueue create sessions --data '{"title":"Deep work"}'
  outbox enqueue update sessions local_01J... --data '{"title":"Deeper work"}'
  outbox enqueue delete meetings 42`,
}

var enqueueCreateCmd = &cobra.Command{
	Use:   "create <collection>",
	Short: "Queue a new record",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnqueueCreate,
}

var enqueueUpdateCmd = &cobra.Command{
	Use:   "update <collection> <id>",
	Short: "Queue a partial update",
	Long: `Queue a partial update. The id may be a server id or the local id
returned by 'enqueue create'; local ids are rewritten once the create syncs.`,
	Args: cobra.ExactArgs(2),
	RunE: runEnqueueUpdate,
}

var enqueueDeleteCmd = &cobra.Command{
	Use:   "delete <collection> <id>",
	Short: "Queue a delete",
	Args:  cobra.ExactArgs(2),
	RunE:  runEnqueueDelete,
}

var (
	enqueueData     string
	enqueuePriority int
)

func init() {
	for _, c := range []*cobra.Command{enqueueCreateCmd, enqueueUpdateCmd, enqueueDeleteCmd} {
		c.Flags().IntVar(&enqueuePriority, "priority", -1, "Override the collection's priority (higher syncs first)")
		enqueueCmd.AddCommand(c)
	}
	enqueueCreateCmd.Flags().StringVar(&enqueueData, "data", "", "Record fields as a JSON object (required)")
	enqueueUpdateCmd.Flags().StringVar(&enqueueData, "data", "", "Changed fields as a JSON object (required)")
	_ = enqueueCreateCmd.MarkFlagRequired("data")
	_ = enqueueUpdateCmd.MarkFlagRequired("data")

	rootCmd.AddCommand(enqueueCmd)
}

func parsePayload(raw string) (outbox.Payload, error) {
	var p outbox.Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("--data must be a JSON object: %w", err)
	}
	return p, nil
}

func enqueueOptions() []outbox.EnqueueOption {
	if enqueuePriority < 0 {
		return nil
	}
	return []outbox.EnqueueOption{outbox.WithPriority(enqueuePriority)}
}

type enqueueResult struct {
	Op         outbox.OpType `json:"op"`
	Collection string        `json:"collection"`
	ID         string        `json:"id"`
}

func outputEnqueued(cmd *cobra.Command, res enqueueResult) error {
	if outputJSON {
		return outputAsJSON(cmd, res)
	}
	printSuccess(cmd.OutOrStdout(), "Queued %s %s/%s", res.Op, res.Collection, res.ID)
	return nil
}

func runEnqueueCreate(cmd *cobra.Command, args []string) error {
	payload, err := parsePayload(enqueueData)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	localID, err := a.engine.EnqueueCreate(args[0], payload, enqueueOptions()...)
	if err != nil {
		return err
	}
	return outputEnqueued(cmd, enqueueResult{Op: outbox.OpInsert, Collection: args[0], ID: localID})
}

func runEnqueueUpdate(cmd *cobra.Command, args []string) error {
	payload, err := parsePayload(enqueueData)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.engine.EnqueueUpdate(args[0], args[1], payload, enqueueOptions()...); err != nil {
		return err
	}
	return outputEnqueued(cmd, enqueueResult{Op: outbox.OpUpdate, Collection: args[0], ID: args[1]})
}

func runEnqueueDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.engine.EnqueueDelete(args[0], args[1], enqueueOptions()...); err != nil {
		return err
	}
	return outputEnqueued(cmd, enqueueResult{Op: outbox.OpDelete, Collection: args[0], ID: args[1]})
}
