package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperengineering/outbox"
	"github.com/spf13/cobra"
)

// outputAsJSON writes any value as formatted JSON to the command's stdout.
func outputAsJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError prints an error to stderr, ensuring no credentials are leaked.
func outputError(w io.Writer, err error) {
	msg := scrubSensitiveData(err.Error())
	fmt.Fprintln(w, renderErrorPanel(msg, "", ""))
}

// scrubSensitiveData removes the API key from error messages.
func scrubSensitiveData(msg string) string {
	if cfgAPIKey != "" && strings.Contains(msg, cfgAPIKey) {
		msg = strings.ReplaceAll(msg, cfgAPIKey, "[REDACTED]")
	}
	return msg
}

func shortID(id string) string {
	if len(id) > 10 {
		return id[:10]
	}
	return id
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func outputQueue(cmd *cobra.Command, items []outbox.QueueItem) error {
	if outputJSON {
		if items == nil {
			items = []outbox.QueueItem{}
		}
		return outputAsJSON(cmd, items)
	}

	out := cmd.OutOrStdout()
	if len(items) == 0 {
		printMuted(out, "Queue is empty.")
		return nil
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		target := item.TargetID
		if target == "" {
			target = item.LocalID
		}
		rows = append(rows, []string{
			item.ID,
			string(item.Type),
			item.Collection + "/" + target,
			string(item.Status),
			fmt.Sprint(item.Priority),
			fmt.Sprint(item.Retries),
		})
	}
	fmt.Fprintln(out, renderTable([]string{"ID", "OP", "RECORD", "STATUS", "PRIORITY", "RETRIES"}, rows))
	return nil
}

func outputStatus(cmd *cobra.Command, st outbox.SyncStatus) error {
	if outputJSON {
		return outputAsJSON(cmd, st)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "State:      %s\n", st.State)
	fmt.Fprintf(&sb, "Last sync:  %s\n", formatTime(st.LastSyncAt))
	fmt.Fprintf(&sb, "Pending:    %d\n", st.Pending)
	fmt.Fprintf(&sb, "Syncing:    %d\n", st.Syncing)
	fmt.Fprintf(&sb, "Failed:     %d\n", st.Failed)
	fmt.Fprintf(&sb, "Conflicts:  %d\n", st.Conflicts)
	m := st.Metrics
	fmt.Fprintf(&sb, "\nEnqueued %d, synced %d, failed attempts %d, conflicts %d detected / %d resolved",
		m.TotalEnqueued, m.SuccessfulSyncs, m.FailedSyncs, m.ConflictsDetected, m.ConflictsResolved)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderPanel("Sync status", sb.String()))
	if st.DurabilityDegraded {
		printWarning(out, "Local snapshots are failing; queued writes may not survive a restart.")
	}
	if st.Stalled > 0 {
		printWarning(out, "%d writes waiting on a conflict or failed write to the same record (see 'outbox conflicts').", st.Stalled)
	}
	return nil
}

func outputConflicts(cmd *cobra.Command, conflicts []outbox.ConflictRecord) error {
	if outputJSON {
		if conflicts == nil {
			conflicts = []outbox.ConflictRecord{}
		}
		return outputAsJSON(cmd, conflicts)
	}

	out := cmd.OutOrStdout()
	if len(conflicts) == 0 {
		printSuccess(out, "No unresolved conflicts.")
		return nil
	}

	rows := make([][]string, 0, len(conflicts))
	for _, c := range conflicts {
		target := c.TargetID
		if target == "" {
			target = "(new)"
		}
		reason := c.Reason
		if len(reason) > 60 {
			reason = reason[:57] + "..."
		}
		rows = append(rows, []string{c.ID, string(c.Type), c.Collection + "/" + target, reason})
	}
	fmt.Fprintln(out, renderTable([]string{"ID", "OP", "RECORD", "REASON"}, rows))
	printMuted(out, "Resolve with: outbox resolve <id> --action retry|skip|force")
	return nil
}

func outputRun(cmd *cobra.Command, res *outbox.RunResult, took time.Duration) error {
	if outputJSON {
		return outputAsJSON(cmd, res)
	}

	out := cmd.OutOrStdout()
	if !res.Started {
		printInfo(out, "Sync skipped: %s", res.Skipped)
		return nil
	}

	summary := fmt.Sprintf("%d attempted, %d succeeded, %d failed, %d conflicts (took %s)",
		res.Attempted, res.Succeeded, res.Failed, res.Conflicts, took.Round(time.Millisecond))
	switch res.State {
	case outbox.StateSuccess:
		printSuccess(out, "Sync complete: %s", summary)
	case outbox.StateConflict:
		printWarning(out, "Sync finished with conflicts: %s", summary)
	default:
		printError(out, "Sync finished with failures: %s", summary)
	}
	if res.Deferred > 0 {
		printMuted(out, "%d writes deferred behind earlier writes to the same record", res.Deferred)
	}
	if res.Halted {
		printWarning(out, "Stopped early: connectivity or session lost")
	}
	return nil
}
