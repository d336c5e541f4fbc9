package store_test

import (
	"errors"
	"testing"

	"github.com/hyperengineering/outbox/internal/store"
)

func TestValidateProfile(t *testing.T) {
	tests := []struct {
		name    string
		profile string
		wantErr bool
	}{
		{"simple", "work", false},
		{"with hyphen", "team-a", false},
		{"digits", "user42", false},
		{"reserved default", "default", false},
		{"reserved system", "_system", false},
		{"empty", "", true},
		{"uppercase", "Work", true},
		{"slash", "org/team", true},
		{"leading hyphen", "-work", true},
		{"trailing hyphen", "work-", true},
		{"double hyphen", "a--b", true},
		{"too long", "a123456789012345678901234567890123456789012345678901234567890123456789", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.ValidateProfile(tt.profile)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProfile(%q) error = %v, wantErr %v", tt.profile, err, tt.wantErr)
			}
		})
	}
}

func TestValidateProfileForCreation(t *testing.T) {
	if err := store.ValidateProfileForCreation("work"); err != nil {
		t.Errorf("ValidateProfileForCreation(work) = %v", err)
	}
	if err := store.ValidateProfileForCreation("default"); !errors.Is(err, store.ErrReservedProfile) {
		t.Errorf("ValidateProfileForCreation(default) = %v, want ErrReservedProfile", err)
	}
	if err := store.ValidateProfileForCreation("Bad"); !errors.Is(err, store.ErrInvalidProfile) {
		t.Errorf("ValidateProfileForCreation(Bad) = %v, want ErrInvalidProfile", err)
	}
}
