package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ledgersync/expsync/internal/config"
)

func TestLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expsync.log")

	f := New(config.LogConfig{File: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	defer f.Close()

	f.Logger("sync").Printf("Reconciling %d operations", 3)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, "[sync] ") {
		t.Errorf("Expected [sync] prefix, got %q", line)
	}
	if !strings.Contains(line, "Reconciling 3 operations") {
		t.Errorf("Expected message in log file, got %q", line)
	}
}

func TestWithoutFile(t *testing.T) {
	f := New(config.LogConfig{})

	if f.Writer() != os.Stderr {
		t.Error("Expected stderr writer when no file is configured")
	}
	if err := f.Rotate(); err != nil {
		t.Errorf("Rotate without file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close without file: %v", err)
	}
}

func TestDiscard(t *testing.T) {
	l := Discard().Logger("api")
	if l.Prefix() != "[api] " {
		t.Errorf("Expected prefix %q, got %q", "[api] ", l.Prefix())
	}
	l.Println("dropped")
}
