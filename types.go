package outbox

import "time"

// OpType is the kind of write a queue item replays.
type OpType string

const (
	OpInsert OpType = "INSERT"
	OpUpdate OpType = "UPDATE"
	OpDelete OpType = "DELETE"
)

// IsValid reports whether t is a known operation type.
func (t OpType) IsValid() bool {
	switch t {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Status is the lifecycle state of a queue item.
type Status string

const (
	// StatusPending items are visible to the processor.
	StatusPending Status = "pending"
	// StatusSyncing items are owned by the in-flight run.
	StatusSyncing Status = "syncing"
	// StatusConflict items wait for a resolution decision.
	StatusConflict Status = "conflict"
	// StatusFailed items exhausted their retries and wait for a manual requeue.
	StatusFailed Status = "failed"
)

// Payload is the field map of a record. Its shape is fixed per collection by a Schema.
type Payload map[string]any

// Clone returns a deep copy of p.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Payload(t).Clone())
	case Payload:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// QueueItem is one unit of pending remote work.
type QueueItem struct {
	ID            string    `json:"id"`
	Seq           uint64    `json:"seq"`
	Type          OpType    `json:"type"`
	Collection    string    `json:"collection"`
	Payload       Payload   `json:"payload,omitempty"`
	TargetID      string    `json:"target_id,omitempty"`
	LocalID       string    `json:"local_id,omitempty"`
	Priority      int       `json:"priority"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	Retries       int       `json:"retries"`
	Status        Status    `json:"status"`
	LastError     string    `json:"last_error,omitempty"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

// EntityKey identifies the record an item writes to. Items sharing a key are
// replayed strictly in enqueue order.
func (it QueueItem) EntityKey() string {
	id := it.TargetID
	if id == "" {
		id = it.LocalID
	}
	return it.Collection + "/" + id
}

func (it QueueItem) clone() QueueItem {
	it.Payload = it.Payload.Clone()
	return it
}

// MirrorEntry is the locally visible copy of a record.
type MirrorEntry struct {
	ID            string     `json:"id"`
	Collection    string     `json:"collection"`
	Data          Payload    `json:"data"`
	Offline       bool       `json:"offline,omitempty"`
	PendingDelete bool       `json:"pending_delete,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
	SyncedAt      *time.Time `json:"synced_at,omitempty"`
}

func (e MirrorEntry) clone() MirrorEntry {
	e.Data = e.Data.Clone()
	if e.SyncedAt != nil {
		t := *e.SyncedAt
		e.SyncedAt = &t
	}
	return e
}

// ConflictRecord describes a queue item the remote rejected as conflicting.
type ConflictRecord struct {
	ID         string    `json:"id"`
	ItemID     string    `json:"item_id"`
	Collection string    `json:"collection"`
	Type       OpType    `json:"type"`
	TargetID   string    `json:"target_id,omitempty"`
	Reason     string    `json:"reason"`
	DetectedAt time.Time `json:"detected_at"`
}

// SyncMetrics are cumulative counters, persisted across restarts.
type SyncMetrics struct {
	TotalEnqueued     int64 `json:"total_enqueued"`
	SuccessfulSyncs   int64 `json:"successful_syncs"`
	FailedSyncs       int64 `json:"failed_syncs"`
	ConflictsDetected int64 `json:"conflicts_detected"`
	ConflictsResolved int64 `json:"conflicts_resolved"`
}

// SyncState is the processor's overall state.
type SyncState string

const (
	StateIdle     SyncState = "idle"
	StateSyncing  SyncState = "syncing"
	StateSuccess  SyncState = "success"
	StateError    SyncState = "error"
	StateConflict SyncState = "conflict"
)

// SyncStatus is the summary exposed to UIs.
type SyncStatus struct {
	State              SyncState   `json:"state"`
	LastSyncAt         *time.Time  `json:"last_sync_at,omitempty"`
	Metrics            SyncMetrics `json:"metrics"`
	Pending            int         `json:"pending"`
	Syncing            int         `json:"syncing"`
	Failed             int         `json:"failed"`
	Conflicts          int         `json:"conflicts"`
	// Stalled counts pending writes waiting on a conflict or failed write
	// to the same record.
	Stalled            int         `json:"stalled"`
	DurabilityDegraded bool        `json:"durability_degraded,omitempty"`
}

// RunResult summarizes one processor run.
type RunResult struct {
	Started   bool      `json:"started"`
	Skipped   string    `json:"skipped,omitempty"`
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Exhausted int       `json:"exhausted"`
	Conflicts int       `json:"conflicts"`
	Deferred  int       `json:"deferred"`
	Halted    bool      `json:"halted,omitempty"`
	State     SyncState `json:"state"`
}
