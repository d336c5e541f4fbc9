package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Storage keys of the persisted blobs.
const (
	KeyQueue     = "queue"
	KeyData      = "data"
	KeyMetrics   = "metrics"
	KeyConflicts = "conflicts"
)

// Storage is a durable key/value area holding independently keyed blobs.
type Storage interface {
	// Load returns the blob saved under key, or ErrNoSnapshot.
	Load(key string) ([]byte, error)
	Save(key string, value []byte) error
	Close() error
}

// statusSnapshot is the blob stored under KeyMetrics.
type statusSnapshot struct {
	Metrics    SyncMetrics `json:"metrics"`
	State      SyncState   `json:"state"`
	LastSyncAt *time.Time  `json:"last_sync_at,omitempty"`
}

// persister writes engine snapshots in the background. Schedule never blocks;
// Flush writes synchronously.
type persister struct {
	storage       Storage
	collect       func() (map[string][]byte, error)
	logger        *slog.Logger
	degradedAfter int

	signal   chan struct{}
	mu       sync.Mutex
	failures int
	degraded atomic.Bool
}

func newPersister(storage Storage, collect func() (map[string][]byte, error), degradedAfter int, logger *slog.Logger) *persister {
	return &persister{
		storage:       storage,
		collect:       collect,
		logger:        logger,
		degradedAfter: degradedAfter,
		signal:        make(chan struct{}, 1),
	}
}

// Schedule requests a snapshot. Requests made while one is pending coalesce.
func (p *persister) Schedule() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Flush writes every blob now.
func (p *persister) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	blobs, err := p.collect()
	if err == nil {
		for _, key := range []string{KeyQueue, KeyData, KeyMetrics, KeyConflicts} {
			if saveErr := p.storage.Save(key, blobs[key]); saveErr != nil {
				err = fmt.Errorf("save %s: %w", key, saveErr)
				break
			}
		}
	}

	if err != nil {
		p.failures++
		if p.failures >= p.degradedAfter && !p.degraded.Swap(true) {
			p.logger.Error("persistence degraded, changes may not survive a restart",
				"consecutive_failures", p.failures, "error", err)
		} else {
			p.logger.Warn("snapshot failed", "error", err, "consecutive_failures", p.failures)
		}
		return err
	}

	if p.degraded.Swap(false) {
		p.logger.Info("persistence recovered")
	}
	p.failures = 0
	return nil
}

// Degraded reports whether recent snapshots kept failing.
func (p *persister) Degraded() bool { return p.degraded.Load() }

// run services Schedule requests until ctx is done.
func (p *persister) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.signal:
			_ = p.Flush()
		}
	}
}

// loadBlob decodes the blob under key into v. A missing key leaves v untouched.
func loadBlob(storage Storage, key string, v any) (bool, error) {
	data, err := storage.Load(key)
	if errors.Is(err, ErrNoSnapshot) || (err == nil && len(data) == 0) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// MemoryStorage keeps blobs in process memory.
type MemoryStorage struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	closed bool
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: make(map[string][]byte)}
}

func (m *MemoryStorage) Load(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	v, ok := m.blobs[key]
	if !ok {
		return nil, ErrNoSnapshot
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStorage) Save(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.blobs[key] = append([]byte(nil), value...)
	return nil
}

// Close marks the storage closed. Saved blobs stay readable through Reopen.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Reopen returns a new MemoryStorage holding the same blobs, simulating a
// process restart over the same durable area.
func (m *MemoryStorage) Reopen() *MemoryStorage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := NewMemoryStorage()
	for k, v := range m.blobs {
		out.blobs[k] = append([]byte(nil), v...)
	}
	return out
}
