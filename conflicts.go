package outbox

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Resolution is the action taken on a conflict.
type Resolution string

const (
	// ResolveRetry requeues the item unchanged with a fresh retry budget.
	ResolveRetry Resolution = "retry"
	// ResolveSkip drops the item; the mirror keeps its local state.
	ResolveSkip Resolution = "skip"
	// ResolveForce requeues the item with a replacement payload.
	ResolveForce Resolution = "force"
)

// Decision is a user choice for one conflict.
type Decision struct {
	Action  Resolution `json:"action"`
	Payload Payload    `json:"payload,omitempty"`
}

// Retry returns a retry decision.
func Retry() Decision { return Decision{Action: ResolveRetry} }

// Skip returns a skip decision.
func Skip() Decision { return Decision{Action: ResolveSkip} }

// Force returns a decision replacing the item's payload.
func Force(p Payload) Decision { return Decision{Action: ResolveForce, Payload: p} }

// ConflictRegister holds conflicts awaiting a decision. Records are never
// resolved automatically.
type ConflictRegister struct {
	mu       sync.Mutex
	records  map[string]ConflictRecord
	onChange func()
}

// NewConflictRegister creates an empty register.
func NewConflictRegister() *ConflictRegister {
	return &ConflictRegister{records: make(map[string]ConflictRecord)}
}

// OnChange registers fn to be called after every mutation.
func (r *ConflictRegister) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

func (r *ConflictRegister) changed() {
	r.mu.Lock()
	fn := r.onChange
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Add records a conflict for item. An item already registered keeps its record.
func (r *ConflictRegister) Add(item QueueItem, reason string, now time.Time) ConflictRecord {
	r.mu.Lock()
	for _, rec := range r.records {
		if rec.ItemID == item.ID {
			r.mu.Unlock()
			return rec
		}
	}
	rec := ConflictRecord{
		ID:         ulid.Make().String(),
		ItemID:     item.ID,
		Collection: item.Collection,
		Type:       item.Type,
		TargetID:   item.TargetID,
		Reason:     reason,
		DetectedAt: now,
	}
	r.records[rec.ID] = rec
	r.mu.Unlock()

	r.changed()
	return rec
}

// Get returns a conflict by id.
func (r *ConflictRegister) Get(id string) (ConflictRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return ConflictRecord{}, fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}
	return rec, nil
}

// List returns all conflicts, oldest first.
func (r *ConflictRegister) List() []ConflictRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConflictRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of open conflicts.
func (r *ConflictRegister) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Remove drops a conflict record.
func (r *ConflictRegister) Remove(id string) error {
	r.mu.Lock()
	_, ok := r.records[id]
	delete(r.records, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}
	r.changed()
	return nil
}

func (r *ConflictRegister) restore(records []ConflictRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]ConflictRecord, len(records))
	for _, rec := range records {
		r.records[rec.ID] = rec
	}
}
