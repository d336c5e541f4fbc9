package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestNewStore_CreatesTables(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()

	for _, table := range []string{"snapshots", "metadata"} {
		var name string
		err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}

	var journalMode string
	if err := store.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected journal_mode=wal, got %q", journalMode)
	}

	version, err := store.GetMetadata("schema_version")
	if err != nil || version != schemaVersion {
		t.Errorf("schema_version = %q, %v", version, err)
	}
}

func TestStore_SaveLoad(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()

	if _, err := store.Load(KeyQueue); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("Load(missing) = %v, want ErrNoSnapshot", err)
	}

	blob := []byte(`[{"id":"a","payload":{"title":"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}}]`)
	if err := store.Save(KeyQueue, blob); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(KeyQueue, append(blob, ' ')); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}

	got, err := store.Load(KeyQueue)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != string(blob)+" " {
		t.Errorf("Load = %q", got)
	}

	var encoding string
	var stored []byte
	if err := store.db.QueryRow("SELECT encoding, value FROM snapshots WHERE key = ?", KeyQueue).Scan(&encoding, &stored); err != nil {
		t.Fatalf("query row: %v", err)
	}
	if encoding != encodingSnappy || len(stored) >= len(got) {
		t.Errorf("stored %d bytes as %q, want compressed snappy", len(stored), encoding)
	}

	if _, err := store.UpdatedAt(KeyQueue); err != nil {
		t.Errorf("UpdatedAt: %v", err)
	}
}

func TestStore_RawEncoding(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()

	if _, err := store.db.Exec(`INSERT INTO snapshots (key, value, encoding, updated_at) VALUES ('data', ?, 'raw', '2026-01-01T00:00:00Z')`, []byte("[]")); err != nil {
		t.Fatalf("insert raw row: %v", err)
	}
	got, err := store.Load(KeyData)
	if err != nil || string(got) != "[]" {
		t.Errorf("Load(raw) = %q, %v", got, err)
	}
}

func TestStore_Closed(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Save(KeyQueue, nil); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Save after close = %v", err)
	}
	if _, err := store.Load(KeyQueue); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Load after close = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestStore_Backup(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "outbox.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()
	if err := store.Save(KeyMetrics, []byte(`{"state":"idle"}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	dest := filepath.Join(dir, "backup.db")
	if err := store.Backup(context.Background(), dest); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	copied, err := NewStore(dest)
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer copied.Close()
	if got, err := copied.Load(KeyMetrics); err != nil || string(got) != `{"state":"idle"}` {
		t.Errorf("backup Load = %q, %v", got, err)
	}
}

func TestOpen_SurvivesRestart(t *testing.T) {
	cfg := Config{LocalPath: filepath.Join(t.TempDir(), "profiles", "work", "outbox.db"), Profile: "work"}

	e, err := Open(cfg, nil, nil, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	localID, err := e.EnqueueCreate("sessions", Payload{"title": "Focus"})
	if err != nil {
		t.Fatalf("EnqueueCreate: %v", err)
	}
	want := mustJSON(t, e.QueueSnapshot())
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2, err := Open(cfg, nil, nil, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	if got := mustJSON(t, e2.QueueSnapshot()); got != want {
		t.Errorf("queue after restart:\n got %s\nwant %s", got, want)
	}
	if _, ok := e2.MirrorEntry("sessions", localID); !ok {
		t.Error("mirror entry lost across restart")
	}
	if n := e2.SyncStatus().Metrics.TotalEnqueued; n != 1 {
		t.Errorf("TotalEnqueued after restart = %d, want 1", n)
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := Config{LocalPath: filepath.Join(t.TempDir(), "x.db"), RemoteURL: "http://example.test"}
	var verr *ValidationError
	if _, err := Open(cfg, nil, nil); !errors.As(err, &verr) || verr.Field != "APIKey" {
		t.Errorf("Open without API key = %v, want APIKey validation error", err)
	}
}
