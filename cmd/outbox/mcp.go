package main

import (
	"context"

	outboxmcp "github.com/hyperengineering/outbox/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for coding agent integration",
	Long: `Start a Model Context Protocol (MCP) server over stdio, exposing the
queue, status, conflicts and sync as tools.

The engine runs its schedules in the background while the server is up.

Example client configuration:

  {
    "mcpServers": {
      "outbox": {
        "command": "outbox",
        "args": ["mcp"],
        "env": {
          "OUTBOX_PROFILE": "work",
          "OUTBOX_REMOTE_URL": "https://api.example.com",
          "OUTBOX_API_KEY": "..."
        }
      }
    }
  }`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if a.probe != nil {
		go a.probe.Run(ctx)
	}
	if err := a.engine.Start(ctx); err != nil {
		return err
	}

	return outboxmcp.NewServer(a.engine).Run()
}
