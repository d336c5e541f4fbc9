package main

import (
	"os"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write queue, mirror and conflicts as JSON",
	Long: `Write the engine state (status, queue, local mirror and conflicts) as a
single JSON document, to stdout or to --output.`,
	Example: `  outbox export > state.json
  outbox export --output state.json`,
	RunE: runExport,
}

var exportOutput string

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to this file instead of stdout")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if exportOutput == "" {
		return a.engine.ExportJSON(cmd.OutOrStdout())
	}

	f, err := os.Create(exportOutput)
	if err != nil {
		return err
	}
	if err := a.engine.ExportJSON(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	printSuccess(cmd.ErrOrStderr(), "Exported to %s", exportOutput)
	return nil
}
