package outbox

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ExportVersion is the current version of the export format.
const ExportVersion = "1.0"

// ExportFormat is the top-level structure for JSON exports.
type ExportFormat struct {
	Version    string           `json:"version"`
	ExportedAt time.Time        `json:"exported_at"`
	Status     SyncStatus       `json:"status"`
	Queue      []QueueItem      `json:"queue"`
	Mirror     []MirrorEntry    `json:"mirror"`
	Conflicts  []ConflictRecord `json:"conflicts"`
}

// Export captures the engine state.
func (e *Engine) Export() ExportFormat {
	return ExportFormat{
		Version:    ExportVersion,
		ExportedAt: e.clock.Now(),
		Status:     e.SyncStatus(),
		Queue:      e.queue.Snapshot(),
		Mirror:     e.mirror.List(""),
		Conflicts:  e.conflicts.List(),
	}
}

// ExportJSON writes the engine state as indented JSON.
func (e *Engine) ExportJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e.Export()); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}
