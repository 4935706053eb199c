package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ledgersync/expsync/internal/schema"
)

// Delta answers "what changed since my last sync" for a client.
type Delta struct {
	store  Store
	logger *log.Logger
}

// NewDelta creates a Delta over store.
// If logger is nil, a default logger writing to stderr is used.
func NewDelta(store Store, logger *log.Logger) *Delta {
	if logger == nil {
		logger = defaultLogger()
	}
	return &Delta{store: store, logger: logger}
}

// UpdatedSince returns the user's records with updated_at strictly after
// watermark, newest first. A zero watermark means the Unix epoch.
//
// Deleted records are not reported; there are no tombstones.
func (d *Delta) UpdatedSince(ctx context.Context, userID string, watermark time.Time) ([]*schema.Expense, error) {
	if watermark.IsZero() {
		watermark = time.Unix(0, 0).UTC()
	}

	expenses, err := d.store.ExpensesUpdatedSince(ctx, userID, watermark)
	if err != nil {
		return nil, fmt.Errorf("failed to get updated expenses: %w", err)
	}

	d.logger.Printf("Found %d updated expenses for user %s since %s", len(expenses), userID, watermark.Format(time.RFC3339Nano))
	return expenses, nil
}
