// Package transfer moves a user's expenses in and out of JSONL files, one
// expense object per line.
//
// Imported records are stored as pending (syncedAt = null) so they count
// toward pendingSync until a reconciliation pass confirms them.
package transfer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledgersync/expsync/internal/db"
	"github.com/ledgersync/expsync/internal/schema"
)

// ExportResult contains statistics about an export.
type ExportResult struct {
	Exported int
	Path     string
}

// ImportOptions contains configuration for an import.
type ImportOptions struct {
	// UserID owns every imported record, whatever the file says (required)
	UserID string
	// DryRun parses and validates without writing
	DryRun bool
	// Backup copies the input file aside before importing
	Backup bool
}

// ImportResult contains statistics about an import.
type ImportResult struct {
	Imported      int
	Skipped       int
	BackupCreated string
	Errors        []string
}

// Export writes every expense of userID to w, newest date first.
func Export(ctx context.Context, database *db.DB, userID string, w io.Writer) (int, error) {
	list, err := database.ListExpenses(ctx, db.ExpenseFilter{UserID: userID})
	if err != nil {
		return 0, fmt.Errorf("failed to list expenses: %w", err)
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, e := range list {
		if err := enc.Encode(e); err != nil {
			return 0, fmt.Errorf("failed to encode expense %s: %w", e.ID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	return len(list), nil
}

// ExportFile writes the export to path atomically via a temp file.
func ExportFile(ctx context.Context, database *db.DB, userID, path string) (*ExportResult, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	n, err := Export(ctx, database, userID, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close temp file: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return &ExportResult{Exported: n, Path: path}, nil
}

// ReadJSONL parses expenses from r. Blank lines are ignored.
func ReadJSONL(r io.Reader) ([]*schema.Expense, error) {
	var list []*schema.Expense
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var e schema.Expense
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}
		list = append(list, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL: %w", err)
	}
	return list, nil
}

// Import reads a JSONL file and inserts its records for opts.UserID.
//
// Records keep their ids unless the id is empty or already taken, in which
// case they are skipped (taken) or given a new id (empty). Invalid records
// are reported in Errors and the import continues.
func Import(ctx context.Context, database *db.DB, path string, opts ImportOptions) (*ImportResult, error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("input file does not exist: %w", err)
	}

	result := &ImportResult{}

	if opts.Backup && !opts.DryRun {
		backupPath := path + ".backup." + time.Now().Format("20060102-150405")
		input, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0o600); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer f.Close()

	records, err := ReadJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSONL: %w", err)
	}

	now := time.Now().UTC()
	for _, e := range records {
		prepare(e, opts.UserID, now)

		if err := e.Validate(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("expense %s: %v", e.ID, err))
			continue
		}

		if _, err := database.GetExpense(ctx, e.ID); err == nil {
			result.Skipped++
			continue
		} else if !errors.Is(err, db.ErrNotFound) {
			return result, fmt.Errorf("failed to check expense %s: %w", e.ID, err)
		}

		if !opts.DryRun {
			if err := database.CreateExpense(ctx, e); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("expense %s: %v", e.ID, err))
				continue
			}
		}
		result.Imported++
	}

	return result, nil
}

// prepare rewrites a parsed record for insertion: new owner, pending sync,
// fresh updated_at so delta queries surface it.
func prepare(e *schema.Expense, userID string, now time.Time) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.UserID = userID
	e.SyncedAt = nil
	e.UpdatedAt = now
	e.Currency = strings.ToUpper(strings.TrimSpace(e.Currency))
	e.SetDefaults(now)
}
