package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hyperengineering/outbox"
	"github.com/hyperengineering/outbox/internal/store"
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage local profiles",
	Long: `Each profile keeps its own queue, mirror and conflicts in
~/.outbox/profiles/<name>/outbox.db.`,
	Example: `  outbox profile list
  outbox profile create work
  outbox --profile work profile backup /tmp/work.db
  outbox profile delete work --confirm`,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local profiles",
	RunE:  runProfileList,
}

var profileCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileCreate,
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a profile and everything queued in it",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileDelete,
}

var profileBackupCmd = &cobra.Command{
	Use:   "backup <dest>",
	Short: "Copy the current profile's database",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileBackup,
}

var profileDeleteConfirm bool

func init() {
	profileDeleteCmd.Flags().BoolVar(&profileDeleteConfirm, "confirm", false, "Confirm deletion (required)")
	profileCmd.AddCommand(profileListCmd, profileCreateCmd, profileDeleteCmd, profileBackupCmd)
	rootCmd.AddCommand(profileCmd)
}

// ProfileListEntry represents a profile in list output.
type ProfileListEntry struct {
	Name      string     `json:"name"`
	Queued    int        `json:"queued"`
	CreatedAt string     `json:"created_at,omitempty"`
	SavedAt   *time.Time `json:"saved_at,omitempty"`
}

func inspectProfile(name string) (ProfileListEntry, error) {
	entry := ProfileListEntry{Name: name}

	s, err := outbox.NewStore(store.ProfileDBPath(name))
	if err != nil {
		return entry, err
	}
	defer s.Close()

	entry.CreatedAt, _ = s.GetMetadata("created_at")
	if at, err := s.UpdatedAt(outbox.KeyQueue); err == nil {
		entry.SavedAt = &at
	}
	data, err := s.Load(outbox.KeyQueue)
	if err == nil {
		var items []json.RawMessage
		if json.Unmarshal(data, &items) == nil {
			entry.Queued = len(items)
		}
	} else if !errors.Is(err, outbox.ErrNoSnapshot) {
		return entry, err
	}
	return entry, nil
}

func runProfileList(cmd *cobra.Command, args []string) error {
	names, err := store.ListProfiles(store.DefaultRoot())
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}

	entries := make([]ProfileListEntry, 0, len(names))
	for _, name := range names {
		entry, err := inspectProfile(name)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	if outputJSON {
		return outputAsJSON(cmd, entries)
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		printWarning(out, "No profiles found.")
		printMuted(out, "Create one with: outbox profile create <name>")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{e.Name, fmt.Sprint(e.Queued), formatTime(e.SavedAt)})
	}
	fmt.Fprintln(out, renderTable([]string{"PROFILE", "QUEUED", "LAST SNAPSHOT"}, rows))
	return nil
}

func runProfileCreate(cmd *cobra.Command, args []string) error {
	name := args[0]
	if err := store.ValidateProfileForCreation(name); err != nil {
		return err
	}
	path := store.ProfileDBPath(name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("profile %q already exists", name)
	}

	s, err := outbox.NewStore(path)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	if err := s.Close(); err != nil {
		return err
	}

	if outputJSON {
		return outputAsJSON(cmd, map[string]string{"name": name, "path": path})
	}
	printSuccess(cmd.OutOrStdout(), "Created profile %s", name)
	printField(cmd.OutOrStdout(), "Path", path)
	return nil
}

func runProfileDelete(cmd *cobra.Command, args []string) error {
	name := args[0]
	if err := store.ValidateProfile(name); err != nil {
		return err
	}
	if store.IsReservedProfile(name) {
		return fmt.Errorf("cannot delete the %q profile", name)
	}
	if !profileDeleteConfirm {
		return fmt.Errorf("deleting %q discards its queued writes; rerun with --confirm", name)
	}

	dir := store.ProfileDir(store.DefaultRoot(), name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("profile %q not found", name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}

	printSuccess(cmd.OutOrStdout(), "Deleted profile %s", name)
	return nil
}

func runProfileBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := outbox.NewStore(cfg.LocalPath)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Backup(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	printSuccess(cmd.OutOrStdout(), "Backed up %s to %s", cfg.Profile, args[0])
	return nil
}
