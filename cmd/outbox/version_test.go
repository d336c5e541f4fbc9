package main

import (
	"encoding/json"
	"runtime"
	"strings"
	"testing"
)

func TestVersion_Human_ShowsVersionInfo(t *testing.T) {
	testEnv(t)

	output := mustExecute(t, "version")
	if !strings.HasPrefix(output, "outbox ") {
		t.Errorf("output should start with 'outbox ', got %q", output)
	}
	for _, field := range []string{"commit:", "built:", "go:", "os:", "collections:"} {
		if !strings.Contains(output, field) {
			t.Errorf("output should contain %q", field)
		}
	}
	if !strings.Contains(output, "sessions") {
		t.Errorf("output should list the sessions collection, got %q", output)
	}
}

func TestVersion_Short(t *testing.T) {
	testEnv(t)

	output := mustExecute(t, "version", "--short")
	if strings.TrimSpace(output) != version {
		t.Errorf("--short output = %q, want %q", output, version)
	}
}

func TestVersion_JSON_ReturnsValidJSON(t *testing.T) {
	testEnv(t)

	output := mustExecute(t, "version", "--json")
	var info versionInfo
	if err := json.Unmarshal([]byte(output), &info); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, output)
	}
	if info.Version != version || info.Go != runtime.Version() || info.OS != runtime.GOOS {
		t.Errorf("info = %+v", info)
	}
	if len(info.Collections) == 0 {
		t.Error("collections should not be empty")
	}
}

func TestHelp_RendersExamples(t *testing.T) {
	testEnv(t)

	output := mustExecute(t, "resolve", "--help")
	if !strings.Contains(output, "Examples:") {
		t.Errorf("help should contain an Examples section, got:\n%s", output)
	}
	if !strings.Contains(output, "--action skip") {
		t.Errorf("help should show the resolve example, got:\n%s", output)
	}
}
