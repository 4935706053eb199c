package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/ledgersync/expsync/internal/db"
	"github.com/ledgersync/expsync/internal/schema"
)

// Ledger is the append-only record of applied sync operations.
type Ledger struct {
	store  Store
	logger *log.Logger
	now    func() time.Time
	newID  func() string
}

// Stats summarizes a user's sync activity.
//
// LastSyncTime is nil when the user has never synced.
type Stats struct {
	TotalSyncs   int        `json:"totalSyncs"`
	LastSyncTime *time.Time `json:"lastSyncTime"`
	PendingSync  int        `json:"pendingSync"`
}

// NewLedger creates a Ledger over store.
// If logger is nil, a default logger writing to stderr is used.
func NewLedger(store Store, logger *log.Logger) *Ledger {
	if logger == nil {
		logger = defaultLogger()
	}
	return &Ledger{store: store, logger: logger, now: time.Now, newID: uuid.NewString}
}

// RecordOperation appends one entry for userID in its own transaction.
//
// The reconciler writes entries inside each operation's transaction instead;
// this is for callers that apply changes outside a batch.
func (l *Ledger) RecordOperation(ctx context.Context, userID string, kind schema.OperationKind, entityID, entityType string) error {
	return l.store.WithTx(ctx, func(w Writer) error {
		return l.record(ctx, w, userID, kind, entityID, entityType, l.now().UTC())
	})
}

func (l *Ledger) record(ctx context.Context, w Writer, userID string, kind schema.OperationKind, entityID, entityType string, at time.Time) error {
	entry := &schema.SyncLogEntry{
		ID:         l.newID(),
		UserID:     userID,
		Operation:  kind,
		EntityID:   entityID,
		EntityType: entityType,
		Timestamp:  at,
	}
	if err := w.CreateSyncLogEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to record sync operation: %w", err)
	}
	return nil
}

// LastSyncTime returns the timestamp of the user's newest ledger entry, or
// the Unix epoch when there is none.
func (l *Ledger) LastSyncTime(ctx context.Context, userID string) (time.Time, error) {
	entry, err := l.store.LatestSyncLogEntry(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return time.Unix(0, 0).UTC(), nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last sync time: %w", err)
	}

	l.logger.Printf("Last sync time for user %s: %s", userID, entry.Timestamp.Format(time.RFC3339Nano))
	return entry.Timestamp, nil
}

// Stats returns the user's ledger size, newest entry time and the number of
// records never confirmed by a sync.
func (l *Ledger) Stats(ctx context.Context, userID string) (*Stats, error) {
	total, err := l.store.CountSyncLogEntries(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync stats: %w", err)
	}

	pending, err := l.store.CountPendingExpenses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync stats: %w", err)
	}

	stats := &Stats{TotalSyncs: total, PendingSync: pending}

	entry, err := l.store.LatestSyncLogEntry(ctx, userID)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to get sync stats: %w", err)
	default:
		ts := entry.Timestamp
		stats.LastSyncTime = &ts
	}

	return stats, nil
}
