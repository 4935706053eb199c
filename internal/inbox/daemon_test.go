package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ledgersync/expsync/internal/db"
	expsync "github.com/ledgersync/expsync/internal/sync"
)

func setupTestDaemon(t *testing.T) (*Daemon, *db.DB, string) {
	t.Helper()

	tmpDir := t.TempDir()
	database, err := db.Open(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.InitSchema(); err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}

	logger := log.New(io.Discard, "", 0)
	svc := expsync.NewService(expsync.NewStore(database), logger)

	inboxDir := filepath.Join(tmpDir, "inbox")
	d, err := New(svc, inboxDir, &Config{DebounceInterval: 50 * time.Millisecond, Logger: logger})
	if err != nil {
		t.Fatalf("Failed to create daemon: %v", err)
	}
	if err := os.MkdirAll(inboxDir, 0o755); err != nil {
		t.Fatalf("Failed to create inbox: %v", err)
	}

	return d, database, inboxDir
}

func writeBatch(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write batch: %v", err)
	}
	return path
}

func readReport(t *testing.T, path string) *Report {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read report: %v", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	return &r
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", path)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

const mixedBatch = `{
  "userId": "user-1",
  "expenses": [
    {"operation": "CREATE", "localId": "l1", "title": "Coffee", "amount": 3.5, "category": "Food"},
    {"operation": "DELETE", "id": "missing"}
  ]
}`

func TestProcessFile(t *testing.T) {
	d, database, dir := setupTestDaemon(t)
	path := writeBatch(t, dir, "phone-001.json", mixedBatch)

	report, err := d.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}

	want := expsync.Summary{Total: 2, Successful: 1, Failed: 1}
	if report.Summary != want {
		t.Errorf("Expected summary %+v, got %+v", want, report.Summary)
	}
	if report.Results[1].Code != expsync.CodeNotFound {
		t.Errorf("Expected NOT_FOUND for the delete, got %s", report.Results[1].Code)
	}

	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("Expected input file to be moved")
	}
	if _, err := os.Stat(filepath.Join(dir, "phone-001.done")); err != nil {
		t.Errorf("Expected .done file: %v", err)
	}

	onDisk := readReport(t, filepath.Join(dir, "phone-001.result.json"))
	if onDisk.UserID != "user-1" || onDisk.Summary != want {
		t.Errorf("Unexpected report on disk: %+v", onDisk)
	}

	n, err := database.CountSyncLogEntries(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CountSyncLogEntries failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 ledger entry, got %d", n)
	}
}

func TestProcessFileInvalid(t *testing.T) {
	d, _, dir := setupTestDaemon(t)

	tests := []struct {
		name    string
		content string
	}{
		{"broken", `{"userId": "user-1", "expenses": [`},
		{"anonymous", `{"expenses": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeBatch(t, dir, tt.name+".json", tt.content)

			_, err := d.ProcessFile(context.Background(), path)
			if !errors.Is(err, ErrInvalidBatch) {
				t.Fatalf("Expected ErrInvalidBatch, got %v", err)
			}
			if _, err := os.Stat(filepath.Join(dir, tt.name+".failed")); err != nil {
				t.Errorf("Expected .failed file: %v", err)
			}
			if r := readReport(t, filepath.Join(dir, tt.name+".result.json")); r.Error == "" {
				t.Error("Expected error in report")
			}
		})
	}
}

func TestDaemonProcessesExistingAndNewFiles(t *testing.T) {
	d, database, dir := setupTestDaemon(t)
	writeBatch(t, dir, "a.json", mixedBatch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitForFile(t, filepath.Join(dir, "a.done"))

	writeBatch(t, dir, "b.json", `{"userId": "user-1", "expenses": [
		{"operation": "CREATE", "localId": "l2", "title": "Bread", "amount": 2, "category": "Food"}
	]}`)
	waitForFile(t, filepath.Join(dir, "b.done"))
	waitForFile(t, filepath.Join(dir, "b.result.json"))

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Daemon did not stop")
	}

	n, err := database.CountSyncLogEntries(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CountSyncLogEntries failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 ledger entries, got %d", n)
	}
}

func TestIsBatchFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"batch.json", true},
		{"batch.result.json", false},
		{"batch.result.json.tmp", false},
		{"batch.done", false},
		{".batch.json", false},
		{"notes.txt", false},
	}
	for _, tt := range tests {
		if got := isBatchFile(tt.name); got != tt.want {
			t.Errorf("isBatchFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNewValidatesArguments(t *testing.T) {
	if _, err := New(nil, "inbox", nil); err == nil {
		t.Error("Expected error for nil reconciler")
	}
}
