package outbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeClock advances only when told to or when slept on.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type remoteCall struct {
	Op         OpType
	Collection string
	ID         string
	Payload    Payload
	Key        string
}

// mockRemote implements Remote and Fetcher for testing. Unset functions succeed.
type mockRemote struct {
	insertFn func(ctx context.Context, collection string, payload Payload) (*RemoteRecord, error)
	updateFn func(ctx context.Context, collection, id string, partial Payload) (*RemoteRecord, error)
	deleteFn func(ctx context.Context, collection, id string) error
	listFn   func(ctx context.Context, collection string) ([]RemoteRecord, error)

	mu     sync.Mutex
	calls  []remoteCall
	nextID int
}

func (m *mockRemote) record(c remoteCall) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
}

func (m *mockRemote) Calls() []remoteCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]remoteCall(nil), m.calls...)
}

func (m *mockRemote) Insert(ctx context.Context, collection string, payload Payload) (*RemoteRecord, error) {
	m.record(remoteCall{Op: OpInsert, Collection: collection, Payload: payload, Key: IdempotencyKey(ctx)})
	if m.insertFn != nil {
		return m.insertFn(ctx, collection, payload)
	}
	m.mu.Lock()
	m.nextID++
	id := fmt.Sprintf("srv-%d", m.nextID)
	m.mu.Unlock()
	return &RemoteRecord{ID: id}, nil
}

func (m *mockRemote) Update(ctx context.Context, collection, id string, partial Payload) (*RemoteRecord, error) {
	m.record(remoteCall{Op: OpUpdate, Collection: collection, ID: id, Payload: partial, Key: IdempotencyKey(ctx)})
	if m.updateFn != nil {
		return m.updateFn(ctx, collection, id, partial)
	}
	return &RemoteRecord{ID: id}, nil
}

func (m *mockRemote) Delete(ctx context.Context, collection, id string) error {
	m.record(remoteCall{Op: OpDelete, Collection: collection, ID: id, Key: IdempotencyKey(ctx)})
	if m.deleteFn != nil {
		return m.deleteFn(ctx, collection, id)
	}
	return nil
}

func (m *mockRemote) List(ctx context.Context, collection string) ([]RemoteRecord, error) {
	if m.listFn != nil {
		return m.listFn(ctx, collection)
	}
	return nil, nil
}

// failingStorage fails every Save while fail is set.
type failingStorage struct {
	*MemoryStorage
	mu   sync.Mutex
	fail bool
}

func (f *failingStorage) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *failingStorage) Save(key string, value []byte) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("disk full")
	}
	return f.MemoryStorage.Save(key, value)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEngine builds an engine over storage with a fake clock.
func newTestEngine(t *testing.T, storage Storage, remote Remote, oracle Oracle, opts ...Option) (*Engine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	base := []Option{WithClock(clock), WithLogger(discardLogger())}
	e, err := NewEngine(storage, remote, oracle, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e, clock
}

func findItem(t *testing.T, e *Engine, id string) QueueItem {
	t.Helper()
	for _, it := range e.QueueSnapshot() {
		if it.ID == id {
			return it
		}
	}
	t.Fatalf("item %s not in queue", id)
	return QueueItem{}
}
