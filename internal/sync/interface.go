package sync

import (
	"context"
	"time"

	"github.com/ledgersync/expsync/internal/db"
	"github.com/ledgersync/expsync/internal/schema"
)

// Reconciler applies batches of client operations against server state.
//
// Each operation in a batch is applied on its own: a failure is reported in
// that operation's Result and never aborts or rolls back the others.
type Reconciler interface {
	// Reconcile applies ops for userID strictly in input order.
	//
	// The returned slice has exactly one Result per operation, in the same
	// order. A successful operation and its ledger entry are committed
	// together; a failed one leaves no trace in storage.
	//
	// Example:
	//   results := r.Reconcile(ctx, "user-1", ops)
	//   summary := sync.Summarize(results)
	Reconcile(ctx context.Context, userID string, ops []schema.SyncOperation) []Result
}

// Store is the storage the sync components read and write through.
type Store interface {
	// WithTx runs fn in one storage transaction; fn's error rolls it back.
	WithTx(ctx context.Context, fn func(w Writer) error) error

	LatestSyncLogEntry(ctx context.Context, userID string) (*schema.SyncLogEntry, error)
	CountSyncLogEntries(ctx context.Context, userID string) (int, error)
	CountPendingExpenses(ctx context.Context, userID string) (int, error)
	ExpensesUpdatedSince(ctx context.Context, userID string, since time.Time) ([]*schema.Expense, error)
}

// Writer is the transactional subset of Store.
//
// UpdateOwnedExpense and DeleteOwnedExpense must return db.ErrNotFound for a
// missing record and db.ErrForbidden for one owned by another user.
type Writer interface {
	CreateExpense(ctx context.Context, e *schema.Expense) error
	UpdateOwnedExpense(ctx context.Context, userID, id string, upd db.ExpenseUpdate, now time.Time) (*schema.Expense, error)
	DeleteOwnedExpense(ctx context.Context, userID, id string) (*schema.Expense, error)
	CreateSyncLogEntry(ctx context.Context, entry *schema.SyncLogEntry) error
}

// Event describes one committed operation.
type Event struct {
	UserID    string               `json:"userId"`
	Operation schema.OperationKind `json:"operation"`
	// EntityID is the id written to the ledger.
	EntityID string `json:"entityId"`
	// ExpenseID is the server id of the affected record.
	ExpenseID string    `json:"expenseId"`
	LocalID   string    `json:"localId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer is notified after operations commit. Observers run synchronously
// on the reconciling goroutine and cannot change results.
type Observer interface {
	OnOperationApplied(ctx context.Context, ev Event)
	OnBatchComplete(ctx context.Context, userID string, summary Summary)
}
