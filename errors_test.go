package outbox

import (
	"errors"
	"fmt"
	"testing"
)

func TestRemoteError(t *testing.T) {
	inner := fmt.Errorf("%w: version mismatch", ErrConflict)
	err := fmt.Errorf("sync item: %w", &RemoteError{Operation: "update", Collection: "sessions", StatusCode: 409, Err: inner})

	var rerr *RemoteError
	if !errors.As(err, &rerr) {
		t.Fatal("errors.As failed")
	}
	if rerr.StatusCode != 409 {
		t.Errorf("StatusCode = %d", rerr.StatusCode)
	}
	if !IsConflict(err) {
		t.Error("IsConflict = false through wrapping")
	}
	want := "remote: update sessions failed (status 409): remote write conflict: version mismatch"
	if rerr.Error() != want {
		t.Errorf("Error() = %q, want %q", rerr.Error(), want)
	}

	network := &RemoteError{Operation: "insert", Collection: "stats", Err: errors.New("dial tcp: refused")}
	if IsConflict(network) {
		t.Error("network error classified as conflict")
	}
	if network.Error() != "remote: insert stats failed: dial tcp: refused" {
		t.Errorf("Error() = %q", network.Error())
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "title", Message: "required"}
	if err.Error() != "validation: title: required" {
		t.Errorf("Error() = %q", err.Error())
	}
}
