package outbox

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Mirror is the local, optimistically updated copy of remote records.
type Mirror struct {
	mu       sync.RWMutex
	entries  map[string]*MirrorEntry
	onChange func()
}

// NewMirror creates an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{entries: make(map[string]*MirrorEntry)}
}

// OnChange registers fn to be called after every mutation.
func (m *Mirror) OnChange(fn func()) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *Mirror) changed() {
	m.mu.RLock()
	fn := m.onChange
	m.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func mirrorKey(collection, id string) string {
	return collection + "/" + id
}

// Get returns a copy of an entry.
func (m *Mirror) Get(collection, id string) (MirrorEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[mirrorKey(collection, id)]
	if !ok {
		return MirrorEntry{}, false
	}
	return e.clone(), true
}

// List returns the entries of a collection ordered by id.
// An empty collection lists every entry.
func (m *Mirror) List(collection string) []MirrorEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]MirrorEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if collection != "" && e.Collection != collection {
			continue
		}
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Collection != out[j].Collection {
			return out[i].Collection < out[j].Collection
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// PutOffline inserts a record created while its remote identity is unknown.
func (m *Mirror) PutOffline(collection, localID string, data Payload, now time.Time) {
	m.mu.Lock()
	m.entries[mirrorKey(collection, localID)] = &MirrorEntry{
		ID:         localID,
		Collection: collection,
		Data:       data.Clone(),
		Offline:    true,
		UpdatedAt:  now,
	}
	m.mu.Unlock()
	m.changed()
}

// ApplyUpdate merges partial into an entry. An unknown id creates a
// placeholder holding only the partial fields.
func (m *Mirror) ApplyUpdate(collection, id string, partial Payload, now time.Time) {
	m.mu.Lock()
	key := mirrorKey(collection, id)
	e, ok := m.entries[key]
	if !ok {
		e = &MirrorEntry{ID: id, Collection: collection, Data: Payload{}}
		m.entries[key] = e
	}
	if e.Data == nil {
		e.Data = Payload{}
	}
	for k, v := range partial {
		e.Data[k] = cloneValue(v)
	}
	e.UpdatedAt = now
	m.mu.Unlock()
	m.changed()
}

// MarkPendingDelete flags an entry as deleted locally. It stays in the
// mirror until the remote confirms the delete.
func (m *Mirror) MarkPendingDelete(collection, id string, now time.Time) bool {
	m.mu.Lock()
	e, ok := m.entries[mirrorKey(collection, id)]
	if ok {
		e.PendingDelete = true
		e.UpdatedAt = now
	}
	m.mu.Unlock()
	if ok {
		m.changed()
	}
	return ok
}

// Remove destroys an entry.
func (m *Mirror) Remove(collection, id string) bool {
	m.mu.Lock()
	key := mirrorKey(collection, id)
	_, ok := m.entries[key]
	delete(m.entries, key)
	m.mu.Unlock()
	if ok {
		m.changed()
	}
	return ok
}

// Reconcile re-keys an offline entry from localID to the id the remote
// assigned and merges any fields the remote returned.
func (m *Mirror) Reconcile(collection, localID, serverID string, remote Payload, now time.Time) error {
	m.mu.Lock()
	oldKey := mirrorKey(collection, localID)
	e, ok := m.entries[oldKey]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mirror: no entry %s", oldKey)
	}
	delete(m.entries, oldKey)
	e.ID = serverID
	e.Offline = false
	for k, v := range remote {
		if e.Data == nil {
			e.Data = Payload{}
		}
		e.Data[k] = cloneValue(v)
	}
	synced := now
	e.SyncedAt = &synced
	m.entries[mirrorKey(collection, serverID)] = e
	m.mu.Unlock()

	m.changed()
	return nil
}

// Confirm records that the remote accepted a write to an entry.
func (m *Mirror) Confirm(collection, id string, remote Payload, now time.Time) {
	m.mu.Lock()
	e, ok := m.entries[mirrorKey(collection, id)]
	if ok {
		for k, v := range remote {
			if e.Data == nil {
				e.Data = Payload{}
			}
			e.Data[k] = cloneValue(v)
		}
		synced := now
		e.SyncedAt = &synced
	}
	m.mu.Unlock()
	if ok {
		m.changed()
	}
}

// Replace swaps the confirmed entries of a collection for records fetched
// from the remote. Entries with unsynced local changes are kept.
func (m *Mirror) Replace(collection string, records []RemoteRecord, keep func(id string) bool, now time.Time) {
	m.mu.Lock()
	for key, e := range m.entries {
		if e.Collection != collection || e.Offline || keep(e.ID) {
			continue
		}
		delete(m.entries, key)
	}
	for _, r := range records {
		key := mirrorKey(collection, r.ID)
		if e, ok := m.entries[key]; ok && (e.Offline || keep(e.ID)) {
			continue
		}
		synced := now
		m.entries[key] = &MirrorEntry{
			ID:         r.ID,
			Collection: collection,
			Data:       r.Data.Clone(),
			UpdatedAt:  now,
			SyncedAt:   &synced,
		}
	}
	m.mu.Unlock()
	m.changed()
}

func (m *Mirror) restore(entries []MirrorEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*MirrorEntry, len(entries))
	for _, e := range entries {
		e := e.clone()
		m.entries[mirrorKey(e.Collection, e.ID)] = &e
	}
}
