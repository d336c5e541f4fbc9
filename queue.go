package outbox

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Queue is the ordered collection of pending remote writes.
//
// Every mutation is atomic with respect to other mutations and reports the
// change through the onChange hook so the owner can schedule a snapshot.
type Queue struct {
	mu       sync.Mutex
	items    map[string]*QueueItem
	nextSeq  uint64
	onChange func()
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{items: make(map[string]*QueueItem), nextSeq: 1}
}

// OnChange registers fn to be called after every mutation.
func (q *Queue) OnChange(fn func()) {
	q.mu.Lock()
	q.onChange = fn
	q.mu.Unlock()
}

func (q *Queue) changed() {
	q.mu.Lock()
	fn := q.onChange
	q.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Enqueue appends item as pending and returns the stored copy.
// ID, Seq, Status and Retries are assigned here; EnqueuedAt defaults to now.
func (q *Queue) Enqueue(item QueueItem) QueueItem {
	q.mu.Lock()
	item.ID = ulid.Make().String()
	item.Seq = q.nextSeq
	q.nextSeq++
	item.Status = StatusPending
	item.Retries = 0
	item.LastError = ""
	item.NextAttemptAt = time.Time{}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now().UTC()
	}
	stored := item.clone()
	q.items[item.ID] = &stored
	q.mu.Unlock()

	q.changed()
	return item
}

// ReadyBatch returns pending items eligible at now, ordered by priority
// (higher first), then enqueue time, then sequence.
func (q *Queue) ReadyBatch(now time.Time) []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var batch []QueueItem
	for _, it := range q.items {
		if it.Status != StatusPending {
			continue
		}
		if !it.NextAttemptAt.IsZero() && it.NextAttemptAt.After(now) {
			continue
		}
		batch = append(batch, it.clone())
	}
	sort.Slice(batch, func(i, j int) bool {
		a, b := batch[i], batch[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		return a.Seq < b.Seq
	})
	return batch
}

// Get returns a copy of the item with id.
func (q *Queue) Get(id string) (QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[id]
	if !ok {
		return QueueItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return it.clone(), nil
}

// Snapshot returns copies of all items in enqueue order.
func (q *Queue) Snapshot() []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sortedLocked()
}

func (q *Queue) sortedLocked() []QueueItem {
	out := make([]QueueItem, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Len returns the number of items in the queue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Counts returns the number of items per status.
func (q *Queue) Counts() map[Status]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	counts := make(map[Status]int, 4)
	for _, it := range q.items {
		counts[it.Status]++
	}
	return counts
}

// transition applies fn to item id if its status is one of from.
func (q *Queue) transition(id string, fn func(*QueueItem), from ...Status) error {
	q.mu.Lock()
	it, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	allowed := false
	for _, s := range from {
		if it.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		status := it.Status
		q.mu.Unlock()
		return fmt.Errorf("%w: item %s is %s", ErrInvalidTransition, id, status)
	}
	fn(it)
	q.mu.Unlock()

	q.changed()
	return nil
}

// MarkSyncing claims a pending item for the in-flight run.
func (q *Queue) MarkSyncing(id string) error {
	return q.transition(id, func(it *QueueItem) {
		it.Status = StatusSyncing
	}, StatusPending)
}

// MarkSucceeded removes a syncing item after the remote confirmed it.
func (q *Queue) MarkSucceeded(id string) error {
	return q.transition(id, func(it *QueueItem) {
		delete(q.items, it.ID)
	}, StatusSyncing)
}

// MarkRetry returns a syncing item to pending after a transient failure.
// The item is not eligible again before notBefore (zero means immediately).
func (q *Queue) MarkRetry(id, reason string, notBefore time.Time) error {
	return q.transition(id, func(it *QueueItem) {
		it.Retries++
		it.Status = StatusPending
		it.LastError = reason
		it.NextAttemptAt = notBefore
	}, StatusSyncing)
}

// Release returns a syncing item to pending without spending a retry, for
// calls abandoned because the engine is shutting down.
func (q *Queue) Release(id string) error {
	return q.transition(id, func(it *QueueItem) {
		it.Status = StatusPending
	}, StatusSyncing)
}

// MarkFailed parks a syncing item whose retries are exhausted.
func (q *Queue) MarkFailed(id, reason string) error {
	return q.transition(id, func(it *QueueItem) {
		it.Retries++
		it.Status = StatusFailed
		it.LastError = reason
		it.NextAttemptAt = time.Time{}
	}, StatusSyncing)
}

// MarkConflict parks a syncing item the remote rejected as conflicting.
func (q *Queue) MarkConflict(id, reason string) error {
	return q.transition(id, func(it *QueueItem) {
		it.Status = StatusConflict
		it.LastError = reason
		it.NextAttemptAt = time.Time{}
	}, StatusSyncing)
}

// Requeue moves a conflict or failed item back to pending with a fresh retry
// budget. A non-nil payload replaces the item's payload.
func (q *Queue) Requeue(id string, payload Payload) error {
	return q.transition(id, func(it *QueueItem) {
		it.Status = StatusPending
		it.Retries = 0
		it.LastError = ""
		it.NextAttemptAt = time.Time{}
		if payload != nil {
			it.Payload = payload.Clone()
		}
	}, StatusConflict, StatusFailed)
}

// Remove drops an item that is not in flight.
func (q *Queue) Remove(id string) error {
	return q.transition(id, func(it *QueueItem) {
		delete(q.items, it.ID)
	}, StatusPending, StatusConflict, StatusFailed)
}

// RewriteTarget points later writes on a locally created record at the id the
// remote assigned. It returns the number of items changed.
func (q *Queue) RewriteTarget(collection, localID, serverID string) int {
	q.mu.Lock()
	n := 0
	for _, it := range q.items {
		if it.Collection != collection {
			continue
		}
		touched := false
		if it.TargetID == localID {
			it.TargetID = serverID
			touched = true
		}
		if it.LocalID == localID && it.Type != OpInsert {
			it.LocalID = serverID
			touched = true
		}
		if touched {
			n++
		}
	}
	q.mu.Unlock()

	if n > 0 {
		q.changed()
	}
	return n
}

// BlockedBy returns the earliest item enqueued before item on the same
// entity, if any. Such an item must settle before item may be replayed.
func (q *Queue) BlockedBy(item QueueItem) (QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := item.EntityKey()
	var blocker *QueueItem
	for _, it := range q.items {
		if it.ID == item.ID || it.Seq >= item.Seq || it.EntityKey() != key {
			continue
		}
		if blocker == nil || it.Seq < blocker.Seq {
			blocker = it
		}
	}
	if blocker == nil {
		return QueueItem{}, false
	}
	return blocker.clone(), true
}

// Stalled counts pending items held behind an earlier conflict or failed
// item on the same entity. They stay pending until that item is resolved
// or requeued.
func (q *Queue) Stalled() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	stuck := make(map[string]uint64)
	for _, it := range q.items {
		if it.Status != StatusConflict && it.Status != StatusFailed {
			continue
		}
		key := it.EntityKey()
		if seq, ok := stuck[key]; !ok || it.Seq < seq {
			stuck[key] = it.Seq
		}
	}
	if len(stuck) == 0 {
		return 0
	}

	n := 0
	for _, it := range q.items {
		if it.Status != StatusPending {
			continue
		}
		if seq, ok := stuck[it.EntityKey()]; ok && seq < it.Seq {
			n++
		}
	}
	return n
}

// restore replaces the queue contents with items loaded from storage.
// Items caught mid-flight go back to pending since their outcome is unknown.
func (q *Queue) restore(items []QueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = make(map[string]*QueueItem, len(items))
	q.nextSeq = 1
	for _, it := range items {
		it := it.clone()
		if it.Status == StatusSyncing {
			it.Status = StatusPending
		}
		q.items[it.ID] = &it
		if it.Seq >= q.nextSeq {
			q.nextSeq = it.Seq + 1
		}
	}
}
