package outbox

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestQueue_EnqueueAssignsIdentity(t *testing.T) {
	q := NewQueue()
	changes := 0
	q.OnChange(func() { changes++ })

	a := q.Enqueue(QueueItem{Type: OpInsert, Collection: "sessions", Retries: 7, Status: StatusFailed})
	b := q.Enqueue(QueueItem{Type: OpInsert, Collection: "sessions"})

	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
	if a.Seq >= b.Seq {
		t.Errorf("expected increasing seq, got %d then %d", a.Seq, b.Seq)
	}
	if a.Status != StatusPending || a.Retries != 0 {
		t.Errorf("new item = %s/%d retries, want pending/0", a.Status, a.Retries)
	}
	if a.EnqueuedAt.IsZero() {
		t.Error("EnqueuedAt not set")
	}
	if changes != 2 {
		t.Errorf("onChange called %d times, want 2", changes)
	}
}

func TestQueue_ReadyBatchOrdering(t *testing.T) {
	q := NewQueue()
	low := q.Enqueue(QueueItem{Type: OpInsert, Collection: "stats", LocalID: "a", Priority: 1, EnqueuedAt: t0})
	highLate := q.Enqueue(QueueItem{Type: OpInsert, Collection: "sessions", LocalID: "b", Priority: 3, EnqueuedAt: t0.Add(2 * time.Second)})
	highEarly := q.Enqueue(QueueItem{Type: OpInsert, Collection: "sessions", LocalID: "c", Priority: 3, EnqueuedAt: t0.Add(time.Second)})
	mid := q.Enqueue(QueueItem{Type: OpInsert, Collection: "meetings", LocalID: "d", Priority: 2, EnqueuedAt: t0})
	highTie := q.Enqueue(QueueItem{Type: OpInsert, Collection: "sessions", LocalID: "e", Priority: 3, EnqueuedAt: t0.Add(2 * time.Second)})

	batch := q.ReadyBatch(t0.Add(time.Hour))
	want := []string{highEarly.ID, highLate.ID, highTie.ID, mid.ID, low.ID}
	if len(batch) != len(want) {
		t.Fatalf("batch has %d items, want %d", len(batch), len(want))
	}
	for i, id := range want {
		if batch[i].ID != id {
			t.Errorf("batch[%d] = %s (%s), want %s", i, batch[i].ID, batch[i].LocalID, id)
		}
	}
}

func TestQueue_ReadyBatchSkipsNonPendingAndGated(t *testing.T) {
	q := NewQueue()
	a := q.Enqueue(QueueItem{Type: OpInsert, Collection: "sessions", LocalID: "a", EnqueuedAt: t0})
	b := q.Enqueue(QueueItem{Type: OpInsert, Collection: "sessions", LocalID: "b", EnqueuedAt: t0})
	c := q.Enqueue(QueueItem{Type: OpInsert, Collection: "sessions", LocalID: "c", EnqueuedAt: t0})

	if err := q.MarkSyncing(a.ID); err != nil {
		t.Fatalf("MarkSyncing: %v", err)
	}
	if err := q.MarkSyncing(b.ID); err != nil {
		t.Fatalf("MarkSyncing: %v", err)
	}
	if err := q.MarkRetry(b.ID, "timeout", t0.Add(time.Minute)); err != nil {
		t.Fatalf("MarkRetry: %v", err)
	}

	batch := q.ReadyBatch(t0)
	if len(batch) != 1 || batch[0].ID != c.ID {
		t.Fatalf("batch at t0 = %v, want only %s", batch, c.ID)
	}

	batch = q.ReadyBatch(t0.Add(time.Minute))
	if len(batch) != 2 {
		t.Fatalf("batch after backoff has %d items, want 2", len(batch))
	}
}

func TestQueue_Transitions(t *testing.T) {
	q := NewQueue()
	it := q.Enqueue(QueueItem{Type: OpUpdate, Collection: "sessions", TargetID: "42"})

	if err := q.MarkSucceeded(it.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("MarkSucceeded(pending) = %v, want ErrInvalidTransition", err)
	}
	if err := q.MarkSyncing("nope"); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("MarkSyncing(unknown) = %v, want ErrItemNotFound", err)
	}

	if err := q.MarkSyncing(it.ID); err != nil {
		t.Fatalf("MarkSyncing: %v", err)
	}
	if err := q.Remove(it.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Remove(syncing) = %v, want ErrInvalidTransition", err)
	}
	if err := q.MarkRetry(it.ID, "503", time.Time{}); err != nil {
		t.Fatalf("MarkRetry: %v", err)
	}
	got, _ := q.Get(it.ID)
	if got.Status != StatusPending || got.Retries != 1 || got.LastError != "503" {
		t.Errorf("after retry = %s/%d/%q, want pending/1/503", got.Status, got.Retries, got.LastError)
	}

	_ = q.MarkSyncing(it.ID)
	if err := q.MarkFailed(it.ID, "503"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got, _ = q.Get(it.ID)
	if got.Status != StatusFailed || got.Retries != 2 {
		t.Errorf("after fail = %s/%d, want failed/2", got.Status, got.Retries)
	}
	if err := q.MarkSyncing(it.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("MarkSyncing(failed) = %v, want ErrInvalidTransition", err)
	}

	if err := q.Requeue(it.ID, Payload{"title": "new"}); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	got, _ = q.Get(it.ID)
	if got.Status != StatusPending || got.Retries != 0 || got.LastError != "" || got.Payload["title"] != "new" {
		t.Errorf("after requeue = %+v", got)
	}

	_ = q.MarkSyncing(it.ID)
	if err := q.MarkSucceeded(it.ID); err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("queue length = %d after success, want 0", q.Len())
	}
}

func TestQueue_ConflictIsTerminal(t *testing.T) {
	q := NewQueue()
	it := q.Enqueue(QueueItem{Type: OpUpdate, Collection: "sessions", TargetID: "42"})
	_ = q.MarkSyncing(it.ID)
	if err := q.MarkConflict(it.ID, "version"); err != nil {
		t.Fatalf("MarkConflict: %v", err)
	}
	if batch := q.ReadyBatch(t0.Add(time.Hour)); len(batch) != 0 {
		t.Errorf("conflict item returned in batch")
	}
	if err := q.Remove(it.ID); err != nil {
		t.Errorf("Remove(conflict) = %v", err)
	}
}

func TestQueue_SnapshotIsCopy(t *testing.T) {
	q := NewQueue()
	q.Enqueue(QueueItem{Type: OpInsert, Collection: "sessions", LocalID: "a", Payload: Payload{"title": "x"}})

	snap := q.Snapshot()
	snap[0].Payload["title"] = "mutated"
	snap[0].Status = StatusFailed

	again := q.Snapshot()
	if again[0].Payload["title"] != "x" || again[0].Status != StatusPending {
		t.Errorf("snapshot mutation leaked into queue: %+v", again[0])
	}
}

func TestQueue_BlockedByAndRewriteTarget(t *testing.T) {
	q := NewQueue()
	ins := q.Enqueue(QueueItem{Type: OpInsert, Collection: "sessions", LocalID: "local_1"})
	upd := q.Enqueue(QueueItem{Type: OpUpdate, Collection: "sessions", TargetID: "local_1", LocalID: "local_1"})
	other := q.Enqueue(QueueItem{Type: OpUpdate, Collection: "sessions", TargetID: "99", LocalID: "99"})

	blocker, ok := q.BlockedBy(upd)
	if !ok || blocker.ID != ins.ID {
		t.Fatalf("BlockedBy(update) = %v, %v; want insert", blocker.ID, ok)
	}
	if _, ok := q.BlockedBy(ins); ok {
		t.Error("insert should not be blocked")
	}
	if _, ok := q.BlockedBy(other); ok {
		t.Error("unrelated entity should not be blocked")
	}

	_ = q.MarkSyncing(ins.ID)
	_ = q.MarkSucceeded(ins.ID)
	if n := q.RewriteTarget("sessions", "local_1", "srv-9"); n != 1 {
		t.Errorf("RewriteTarget changed %d items, want 1", n)
	}
	got, _ := q.Get(upd.ID)
	if got.TargetID != "srv-9" || got.LocalID != "srv-9" {
		t.Errorf("rewritten item = %s/%s, want srv-9/srv-9", got.TargetID, got.LocalID)
	}
}

func TestQueue_RestoreReturnsSyncingToPending(t *testing.T) {
	q := NewQueue()
	q.restore([]QueueItem{
		{ID: "a", Seq: 4, Type: OpInsert, Collection: "sessions", LocalID: "x", Status: StatusSyncing, Retries: 1},
		{ID: "b", Seq: 9, Type: OpInsert, Collection: "sessions", LocalID: "y", Status: StatusFailed},
	})

	a, _ := q.Get("a")
	if a.Status != StatusPending || a.Retries != 1 {
		t.Errorf("restored syncing item = %s/%d, want pending/1", a.Status, a.Retries)
	}
	next := q.Enqueue(QueueItem{Type: OpInsert, Collection: "sessions", LocalID: "z"})
	if next.Seq != 10 {
		t.Errorf("seq after restore = %d, want 10", next.Seq)
	}
}
