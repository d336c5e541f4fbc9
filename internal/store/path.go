package store

import (
	"os"
	"path/filepath"
)

// DBFileName is the name of the snapshot database inside a profile directory.
const DBFileName = "outbox.db"

// DefaultRoot returns the directory holding all profiles.
// Defaults to ~/.outbox/profiles, or ./.outbox/profiles when no home dir is available.
func DefaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, ".outbox", "profiles")
	}
	return filepath.Join(home, ".outbox", "profiles")
}

// ProfileDir returns the directory for a profile under root.
func ProfileDir(root, profile string) string {
	return filepath.Join(root, profile)
}

// ProfileDBPath returns the snapshot database path of a profile.
// Example: ProfileDBPath("work") -> ~/.outbox/profiles/work/outbox.db
func ProfileDBPath(profile string) string {
	return filepath.Join(ProfileDir(DefaultRoot(), profile), DBFileName)
}

// ListProfiles returns the profiles under root that already hold a database.
func ListProfiles(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var profiles []string
	for _, e := range entries {
		if !e.IsDir() || ValidateProfile(e.Name()) != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), DBFileName)); err == nil {
			profiles = append(profiles, e.Name())
		}
	}
	return profiles, nil
}
