// Package mcp exposes an outbox engine as MCP (Model Context Protocol) tools
// over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperengineering/outbox"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps the MCP server with outbox tools.
type Server struct {
	engine    *outbox.Engine
	mcpServer *server.MCPServer
}

// ToolResult represents the result of a tool call.
type ToolResult struct {
	Content string
	IsError bool
}

// ToolInfo represents a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{Name: "outbox_status", Description: "Show sync state, queue counts and cumulative metrics"},
	{Name: "outbox_queue", Description: "List queued writes in processing order"},
	{Name: "outbox_enqueue", Description: "Queue a create, update or delete for a collection"},
	{Name: "outbox_conflicts", Description: "List writes the remote rejected as conflicts"},
	{Name: "outbox_resolve", Description: "Resolve a conflict by retrying, skipping or forcing a payload"},
	{Name: "outbox_retry", Description: "Requeue writes that exhausted their retries"},
	{Name: "outbox_sync", Description: "Drain the queue to the remote now"},
}

// NewServer creates a new MCP server with outbox tools registered.
func NewServer(engine *outbox.Engine) *Server {
	s := &Server{engine: engine}

	s.mcpServer = server.NewMCPServer(
		"outbox",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools()

	return s
}

// Run starts the MCP server, reading from stdin and writing to stdout.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

// HandleMessage processes a raw JSON-RPC message and returns a response.
// This is primarily for testing the MCP protocol layer.
func (s *Server) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	return s.mcpServer.HandleMessage(ctx, message)
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

// CallTool executes a tool by name with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	switch name {
	case "outbox_status":
		return s.handleStatus(ctx, args)
	case "outbox_queue":
		return s.handleQueue(ctx, args)
	case "outbox_enqueue":
		return s.handleEnqueue(ctx, args)
	case "outbox_conflicts":
		return s.handleConflicts(ctx, args)
	case "outbox_resolve":
		return s.handleResolve(ctx, args)
	case "outbox_retry":
		return s.handleRetry(ctx, args)
	case "outbox_sync":
		return s.handleSync(ctx, args)
	default:
		return &ToolResult{Content: fmt.Sprintf("unknown tool: %s", name), IsError: true}, nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("outbox_status",
		mcp.WithDescription("Show the sync state, queue counts by status, and cumulative metrics. Read-only."),
	), s.wrap(s.handleStatus))

	s.mcpServer.AddTool(mcp.NewTool("outbox_queue",
		mcp.WithDescription("List queued writes in the order they will be sent. Read-only."),
		mcp.WithString("status",
			mcp.Description("Only list items with this status"),
			mcp.Enum("pending", "syncing", "conflict", "failed"),
		),
	), s.wrap(s.handleQueue))

	s.mcpServer.AddTool(mcp.NewTool("outbox_enqueue",
		mcp.WithDescription("Queue a write. Creates return the local id to use for follow-up updates until the remote assigns one."),
		mcp.WithString("op",
			mcp.Description("Write type"),
			mcp.Enum("create", "update", "delete"),
			mcp.Required(),
		),
		mcp.WithString("collection",
			mcp.Description("Target collection (sessions, meetings, stats)"),
			mcp.Required(),
		),
		mcp.WithString("id",
			mcp.Description("Record id for update and delete; a local id is accepted"),
		),
		mcp.WithObject("payload",
			mcp.Description("Record fields for create, changed fields for update"),
		),
		mcp.WithNumber("priority",
			mcp.Description("Override the collection's default priority"),
		),
	), s.wrap(s.handleEnqueue))

	s.mcpServer.AddTool(mcp.NewTool("outbox_conflicts",
		mcp.WithDescription("List writes the remote rejected as conflicts. Read-only."),
	), s.wrap(s.handleConflicts))

	s.mcpServer.AddTool(mcp.NewTool("outbox_resolve",
		mcp.WithDescription("Resolve a conflict. retry requeues the write unchanged, skip drops it, force requeues it with a replacement payload."),
		mcp.WithString("conflict_id",
			mcp.Description("Conflict id from outbox_conflicts"),
			mcp.Required(),
		),
		mcp.WithString("action",
			mcp.Description("Resolution"),
			mcp.Enum("retry", "skip", "force"),
			mcp.Required(),
		),
		mcp.WithObject("payload",
			mcp.Description("Replacement payload, required for force"),
		),
	), s.wrap(s.handleResolve))

	s.mcpServer.AddTool(mcp.NewTool("outbox_retry",
		mcp.WithDescription("Requeue failed writes. Give an item id, or all=true for every failed write."),
		mcp.WithString("item_id",
			mcp.Description("Queue item id"),
		),
		mcp.WithBoolean("all",
			mcp.Description("Requeue every failed write"),
		),
	), s.wrap(s.handleRetry))

	s.mcpServer.AddTool(mcp.NewTool("outbox_sync",
		mcp.WithDescription("Drain the queue to the remote now. Requires a configured remote and connectivity."),
	), s.wrap(s.handleSync))
}

type handler func(ctx context.Context, args map[string]any) (*ToolResult, error)

func (s *Server) wrap(h handler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := h(ctx, req.GetArguments())
		if err != nil {
			return nil, err
		}
		return toMCPResult(result), nil
	}
}

func toMCPResult(r *ToolResult) *mcp.CallToolResult {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: r.Content,
			},
		},
	}
	if r.IsError {
		result.IsError = true
	}
	return result
}

func errorResult(format string, args ...any) (*ToolResult, error) {
	return &ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}, nil
}

// Internal handlers

func (s *Server) handleStatus(ctx context.Context, args map[string]any) (*ToolResult, error) {
	return &ToolResult{Content: formatStatus(s.engine.SyncStatus())}, nil
}

func (s *Server) handleQueue(ctx context.Context, args map[string]any) (*ToolResult, error) {
	filter, _ := args["status"].(string)

	items := s.engine.QueueSnapshot()
	var sb strings.Builder
	n := 0
	for _, item := range items {
		if filter != "" && string(item.Status) != filter {
			continue
		}
		n++
		target := item.TargetID
		if target == "" {
			target = item.LocalID
		}
		sb.WriteString(fmt.Sprintf("[%s] %s %s/%s (%s, priority %d, retries %d)\n",
			item.ID, item.Type, item.Collection, target, item.Status, item.Priority, item.Retries))
		if item.LastError != "" {
			sb.WriteString(fmt.Sprintf("    last error: %s\n", truncate(item.LastError, 120)))
		}
	}
	if n == 0 {
		return &ToolResult{Content: "Queue is empty."}, nil
	}
	return &ToolResult{Content: fmt.Sprintf("%d queued writes:\n\n%s", n, sb.String())}, nil
}

func (s *Server) handleEnqueue(ctx context.Context, args map[string]any) (*ToolResult, error) {
	op, _ := args["op"].(string)
	collection, _ := args["collection"].(string)
	id, _ := args["id"].(string)
	if collection == "" {
		return errorResult("collection is required")
	}
	payload, err := toPayload(args["payload"])
	if err != nil {
		return errorResult("invalid payload: %v", err)
	}

	var opts []outbox.EnqueueOption
	if p, ok := args["priority"].(float64); ok {
		opts = append(opts, outbox.WithPriority(int(p)))
	}

	switch op {
	case "create":
		localID, err := s.engine.EnqueueCreate(collection, payload, opts...)
		if err != nil {
			return errorResult("enqueue failed: %v", err)
		}
		return &ToolResult{Content: fmt.Sprintf("Queued create in %s.\n  Local id: %s", collection, localID)}, nil
	case "update":
		itemID, err := s.engine.EnqueueUpdate(collection, id, payload, opts...)
		if err != nil {
			return errorResult("enqueue failed: %v", err)
		}
		return &ToolResult{Content: fmt.Sprintf("Queued update of %s/%s.\n  Item: %s", collection, id, itemID)}, nil
	case "delete":
		itemID, err := s.engine.EnqueueDelete(collection, id, opts...)
		if err != nil {
			return errorResult("enqueue failed: %v", err)
		}
		return &ToolResult{Content: fmt.Sprintf("Queued delete of %s/%s.\n  Item: %s", collection, id, itemID)}, nil
	default:
		return errorResult("op must be create, update or delete")
	}
}

func (s *Server) handleConflicts(ctx context.Context, args map[string]any) (*ToolResult, error) {
	conflicts := s.engine.Conflicts()
	if len(conflicts) == 0 {
		return &ToolResult{Content: "No unresolved conflicts."}, nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d unresolved conflicts:\n\n", len(conflicts)))
	for _, c := range conflicts {
		target := c.TargetID
		if target == "" {
			target = "(new record)"
		}
		sb.WriteString(fmt.Sprintf("[%s] %s %s/%s\n", c.ID, c.Type, c.Collection, target))
		sb.WriteString(fmt.Sprintf("    %s\n", truncate(c.Reason, 200)))
	}
	sb.WriteString("\nUse outbox_resolve with a conflict id and retry, skip or force.")
	return &ToolResult{Content: sb.String()}, nil
}

func (s *Server) handleResolve(ctx context.Context, args map[string]any) (*ToolResult, error) {
	id, _ := args["conflict_id"].(string)
	if id == "" {
		return errorResult("conflict_id is required")
	}

	var d outbox.Decision
	switch action, _ := args["action"].(string); action {
	case "retry":
		d = outbox.Retry()
	case "skip":
		d = outbox.Skip()
	case "force":
		payload, err := toPayload(args["payload"])
		if err != nil {
			return errorResult("invalid payload: %v", err)
		}
		if payload == nil {
			return errorResult("payload is required for force")
		}
		d = outbox.Force(payload)
	default:
		return errorResult("action must be retry, skip or force")
	}

	if err := s.engine.ResolveConflict(id, d); err != nil {
		return errorResult("resolve failed: %v", err)
	}
	return &ToolResult{Content: fmt.Sprintf("Conflict %s resolved with %s.", id, d.Action)}, nil
}

func (s *Server) handleRetry(ctx context.Context, args map[string]any) (*ToolResult, error) {
	if all, _ := args["all"].(bool); all {
		n := s.engine.RetryAllFailed()
		return &ToolResult{Content: fmt.Sprintf("Requeued %d failed writes.", n)}, nil
	}
	id, _ := args["item_id"].(string)
	if id == "" {
		return errorResult("item_id or all=true is required")
	}
	if err := s.engine.RetryFailed(id); err != nil {
		return errorResult("retry failed: %v", err)
	}
	return &ToolResult{Content: fmt.Sprintf("Requeued %s.", id)}, nil
}

func (s *Server) handleSync(ctx context.Context, args map[string]any) (*ToolResult, error) {
	res, err := s.engine.ForceSyncNow(ctx)
	if errors.Is(err, outbox.ErrOffline) {
		return errorResult("sync unavailable: no remote is configured")
	}
	if err != nil {
		return errorResult("sync failed: %v", err)
	}
	if !res.Started {
		return &ToolResult{Content: fmt.Sprintf("Sync skipped: %s.", res.Skipped)}, nil
	}
	return &ToolResult{Content: formatRun(res)}, nil
}

// Formatting functions

func formatStatus(st outbox.SyncStatus) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("State: %s\n", st.State))
	if st.LastSyncAt != nil {
		sb.WriteString(fmt.Sprintf("Last sync: %s\n", st.LastSyncAt.Format("2006-01-02 15:04:05 MST")))
	} else {
		sb.WriteString("Last sync: never\n")
	}
	sb.WriteString(fmt.Sprintf("Queue: %d pending, %d syncing, %d failed, %d conflicts\n",
		st.Pending, st.Syncing, st.Failed, st.Conflicts))
	if st.Stalled > 0 {
		sb.WriteString(fmt.Sprintf("%d writes waiting on a conflict or failed write to the same record\n", st.Stalled))
	}
	m := st.Metrics
	sb.WriteString(fmt.Sprintf("Metrics: %d enqueued, %d synced, %d failed attempts, %d conflicts detected, %d resolved",
		m.TotalEnqueued, m.SuccessfulSyncs, m.FailedSyncs, m.ConflictsDetected, m.ConflictsResolved))
	if st.DurabilityDegraded {
		sb.WriteString("\nWarning: local snapshots are failing; queued writes may not survive a restart.")
	}
	return sb.String()
}

func formatRun(res *outbox.RunResult) string {
	s := fmt.Sprintf("Sync finished (%s): %d attempted, %d succeeded, %d failed, %d conflicts",
		res.State, res.Attempted, res.Succeeded, res.Failed, res.Conflicts)
	if res.Deferred > 0 {
		s += fmt.Sprintf(", %d deferred", res.Deferred)
	}
	if res.Halted {
		s += "\nStopped early: connectivity or session lost."
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// toPayload accepts a JSON object either decoded or as a string.
func toPayload(v any) (outbox.Payload, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return outbox.Payload(p), nil
	case string:
		if p == "" {
			return nil, nil
		}
		var out outbox.Payload
		if err := json.Unmarshal([]byte(p), &out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected an object, got %T", v)
	}
}
