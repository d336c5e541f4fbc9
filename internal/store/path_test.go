package store_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperengineering/outbox/internal/store"
)

func TestDefaultRoot(t *testing.T) {
	root := store.DefaultRoot()
	if !strings.HasSuffix(root, filepath.Join(".outbox", "profiles")) {
		t.Errorf("DefaultRoot() = %q, want suffix .outbox/profiles", root)
	}
}

func TestProfileDBPath(t *testing.T) {
	got := store.ProfileDBPath("work")
	want := filepath.Join(store.DefaultRoot(), "work", store.DBFileName)
	if got != want {
		t.Errorf("ProfileDBPath(work) = %q, want %q", got, want)
	}
}

func TestListProfiles(t *testing.T) {
	root := t.TempDir()

	for _, name := range []string{"alpha", "beta"} {
		dir := store.ProfileDir(root, name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, store.DBFileName), nil, 0644); err != nil {
			t.Fatalf("write db: %v", err)
		}
	}
	// A directory without a database and an invalid name are both ignored.
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "Bad_Name"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, err := store.ListProfiles(root)
	if err != nil {
		t.Fatalf("ListProfiles() error = %v", err)
	}
	if len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Errorf("ListProfiles() = %v, want [alpha beta]", got)
	}
}

func TestListProfiles_MissingRoot(t *testing.T) {
	got, err := store.ListProfiles(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("ListProfiles() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListProfiles() = %v, want empty", got)
	}
}
