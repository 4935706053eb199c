package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ledgersync/expsync/internal/schema"
)

const syncLogColumns = `id, user_id, operation, entity_id, entity_type, timestamp`

// CreateSyncLogEntry appends an entry to the sync ledger.
func (q queries) CreateSyncLogEntry(ctx context.Context, entry *schema.SyncLogEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid sync log entry: %w", err)
	}

	query := `INSERT INTO sync_logs (` + syncLogColumns + `) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := q.exec(ctx, query,
		entry.ID,
		entry.UserID,
		string(entry.Operation),
		entry.EntityID,
		entry.EntityType,
		formatTime(entry.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to create sync log entry: %w", err)
	}

	return nil
}

// LatestSyncLogEntry returns the user's entry with the greatest timestamp.
// Returns ErrNotFound if the user has no entries.
func (q queries) LatestSyncLogEntry(ctx context.Context, userID string) (*schema.SyncLogEntry, error) {
	query := `SELECT ` + syncLogColumns + ` FROM sync_logs
	WHERE user_id = ?
	ORDER BY timestamp DESC
	LIMIT 1`

	entry, err := scanSyncLogEntry(q.queryRow(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest sync log entry: %w", err)
	}
	return entry, nil
}

// CountSyncLogEntries counts the user's ledger entries.
func (q queries) CountSyncLogEntries(ctx context.Context, userID string) (int, error) {
	var count int
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM sync_logs WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sync log entries: %w", err)
	}
	return count, nil
}

// ListSyncLogEntries returns the user's most recent entries, newest first.
// A limit of 0 returns all entries.
func (q queries) ListSyncLogEntries(ctx context.Context, userID string, limit int) ([]*schema.SyncLogEntry, error) {
	query := `SELECT ` + syncLogColumns + ` FROM sync_logs
	WHERE user_id = ?
	ORDER BY timestamp DESC, id ASC`
	args := []any{userID}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync log entries: %w", err)
	}
	defer rows.Close()

	entries := []*schema.SyncLogEntry{}
	for rows.Next() {
		entry, err := scanSyncLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync log entries: %w", err)
	}

	return entries, nil
}

func scanSyncLogEntry(row rowScanner) (*schema.SyncLogEntry, error) {
	var (
		entry     schema.SyncLogEntry
		operation string
		timestamp string
	)

	if err := row.Scan(&entry.ID, &entry.UserID, &operation, &entry.EntityID, &entry.EntityType, &timestamp); err != nil {
		return nil, err
	}

	entry.Operation = schema.OperationKind(operation)
	t, err := parseTime(timestamp)
	if err != nil {
		return nil, err
	}
	entry.Timestamp = t

	return &entry, nil
}
