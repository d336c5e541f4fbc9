// Package store locates the on-disk snapshot databases used by outbox.
// Each profile (for example one per signed-in account) gets its own database
// so queues of different accounts never mix.
package store

import (
	"errors"
	"regexp"
	"strings"
)

// DefaultProfile is used when no profile is configured.
const DefaultProfile = "default"

var (
	// ErrInvalidProfile indicates the profile name format is invalid.
	ErrInvalidProfile = errors.New("invalid profile: must be lowercase alphanumeric with hyphens, 1-64 characters")

	// ErrReservedProfile indicates the profile name cannot be created.
	ErrReservedProfile = errors.New("reserved profile: cannot create profiles with reserved names")
)

// Profiles are single path segments: lowercase alphanumerics and inner hyphens.
var profileRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?$`)

var reservedProfiles = map[string]bool{
	DefaultProfile: true,
	"_system":      true,
}

// ValidateProfile checks a profile name. Reserved names are valid targets.
func ValidateProfile(name string) error {
	if name == "" {
		return ErrInvalidProfile
	}
	if reservedProfiles[name] {
		return nil
	}
	if strings.Contains(name, "--") || !profileRegex.MatchString(name) {
		return ErrInvalidProfile
	}
	return nil
}

// IsReservedProfile reports whether name is reserved.
func IsReservedProfile(name string) bool {
	return reservedProfiles[name]
}

// ValidateProfileForCreation rejects invalid and reserved names.
func ValidateProfileForCreation(name string) error {
	if err := ValidateProfile(name); err != nil {
		return err
	}
	if IsReservedProfile(name) {
		return ErrReservedProfile
	}
	return nil
}
