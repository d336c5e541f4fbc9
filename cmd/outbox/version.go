package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/hyperengineering/outbox"
	"github.com/spf13/cobra"
)

// Build-time variables (set via ldflags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// versionInfo describes the binary and the collections it can queue writes for.
type versionInfo struct {
	Version     string   `json:"version"`
	Commit      string   `json:"commit"`
	Date        string   `json:"date"`
	Go          string   `json:"go"`
	OS          string   `json:"os"`
	Arch        string   `json:"arch"`
	Collections []string `json:"collections"`
}

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version, build metadata and the collections this build accepts writes for.`,
	Example: `  outbox version
  outbox version --short
  outbox version --json`,
	RunE: runVersion,
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print only the version number")
	rootCmd.AddCommand(versionCmd)
}

func currentVersion() versionInfo {
	info := versionInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
		Go:      runtime.Version(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
	}
	for _, sc := range outbox.DefaultSchemas() {
		info.Collections = append(info.Collections, sc.Collection)
	}
	return info
}

func runVersion(cmd *cobra.Command, args []string) error {
	info := currentVersion()
	if outputJSON {
		return outputAsJSON(cmd, info)
	}

	out := cmd.OutOrStdout()
	if versionShort {
		fmt.Fprintln(out, info.Version)
		return nil
	}

	fmt.Fprintf(out, "outbox %s\n", info.Version)
	printField(out, "commit", info.Commit)
	printField(out, "built", info.Date)
	printField(out, "go", info.Go)
	printField(out, "os", info.OS+"/"+info.Arch)
	printField(out, "collections", strings.Join(info.Collections, ", "))
	return nil
}
