package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelHelpersWriteToExecutionLog(t *testing.T) {
	dir := t.TempDir()
	if err := Configure(dir, "execution.log"); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	Info("ingest started", "day", "2024-03-02")
	Warn("batch retried", "attempt", 2)
	Error("fetch failed", errors.New("timeout"), "pmid", "12345")
	Debug("chunk emitted", "count", 3)

	data, err := os.ReadFile(filepath.Join(dir, "execution.log"))
	if err != nil {
		t.Fatalf("reading execution log: %v", err)
	}
	log := string(data)
	for _, want := range []string{
		"ingest started", `"day":"2024-03-02"`,
		"batch retried", `"attempt":2`,
		"fetch failed", "timeout", `"pmid":"12345"`,
		"chunk emitted", `"count":3`,
	} {
		if !strings.Contains(log, want) {
			t.Errorf("execution log missing %q:\n%s", want, log)
		}
	}
}

func TestConfigureAppends(t *testing.T) {
	dir := t.TempDir()
	if err := Configure(dir, "execution.log"); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	Info("first run")
	if err := Configure(dir, "execution.log"); err != nil {
		t.Fatalf("Configure again: %v", err)
	}
	Info("second run")

	data, err := os.ReadFile(filepath.Join(dir, "execution.log"))
	if err != nil {
		t.Fatalf("reading execution log: %v", err)
	}
	if !strings.Contains(string(data), "first run") || !strings.Contains(string(data), "second run") {
		t.Errorf("expected both runs in the log, got:\n%s", data)
	}
}
