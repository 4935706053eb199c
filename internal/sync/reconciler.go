package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/ledgersync/expsync/internal/db"
	"github.com/ledgersync/expsync/internal/schema"
)

// Option configures a Reconciler.
type Option func(*reconciler)

// WithClock replaces time.Now. Timestamps are always stored in UTC.
func WithClock(now func() time.Time) Option {
	return func(r *reconciler) { r.now = now }
}

// WithIDGenerator replaces the UUID generator used for new records and
// ledger entries.
func WithIDGenerator(newID func() string) Option {
	return func(r *reconciler) { r.newID = newID }
}

// WithObserver registers an Observer. Observers are called in the order
// they were registered.
func WithObserver(o Observer) Option {
	return func(r *reconciler) { r.observers = append(r.observers, o) }
}

// reconciler implements the Reconciler interface.
type reconciler struct {
	store     Store
	ledger    *Ledger
	logger    *log.Logger
	now       func() time.Time
	newID     func() string
	observers []Observer
}

// NewReconciler creates a new Reconciler over store.
//
// If logger is nil, a default logger writing to stderr is used.
//
// Example:
//
//	database, err := db.Open("data/expsync.db")
//	if err != nil {
//	    return err
//	}
//	r := sync.NewReconciler(sync.NewStore(database), nil)
func NewReconciler(store Store, logger *log.Logger, opts ...Option) Reconciler {
	return newReconciler(store, logger, opts...)
}

func newReconciler(store Store, logger *log.Logger, opts ...Option) *reconciler {
	if logger == nil {
		logger = defaultLogger()
	}
	r := &reconciler{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ledger = &Ledger{store: store, logger: logger, now: r.now, newID: r.newID}
	return r
}

// Reconcile implements Reconciler.Reconcile.
func (r *reconciler) Reconcile(ctx context.Context, userID string, ops []schema.SyncOperation) []Result {
	r.logger.Printf("Starting sync for user %s with %d operations", userID, len(ops))

	results := make([]Result, 0, len(ops))
	for i := range ops {
		results = append(results, r.apply(ctx, userID, ops[i]))
	}

	summary := Summarize(results)
	r.logger.Printf("Sync completed for user %s: total=%d successful=%d failed=%d",
		userID, summary.Total, summary.Successful, summary.Failed)

	for _, o := range r.observers {
		o.OnBatchComplete(ctx, userID, summary)
	}
	return results
}

// apply runs one operation and its ledger entry in a single transaction.
func (r *reconciler) apply(ctx context.Context, userID string, req schema.SyncOperation) Result {
	op, err := req.Resolve()
	if err != nil {
		return r.failure(req, err)
	}

	now := r.now().UTC()
	entityID := req.EntityID()

	var (
		data      any
		expenseID string
	)
	err = r.store.WithTx(ctx, func(w Writer) error {
		var err error
		data, expenseID, err = r.mutate(ctx, w, userID, op, now)
		if err != nil {
			return err
		}
		return r.ledger.record(ctx, w, userID, op.Kind(), entityID, schema.EntityTypeExpense, now)
	})
	if err != nil {
		return r.failure(req, err)
	}

	ev := Event{
		UserID:    userID,
		Operation: op.Kind(),
		EntityID:  entityID,
		ExpenseID: expenseID,
		LocalID:   req.LocalID,
		Timestamp: now,
	}
	for _, o := range r.observers {
		o.OnOperationApplied(ctx, ev)
	}

	return Result{Success: true, Data: data, LocalID: req.LocalID}
}

// mutate applies the storage change for op and returns the result payload
// and the affected record id.
func (r *reconciler) mutate(ctx context.Context, w Writer, userID string, op schema.Op, now time.Time) (any, string, error) {
	switch o := op.(type) {
	case schema.CreateOp:
		r.logger.Printf("Creating new expense: %s", o.Fields.Title)
		e := o.Fields.NewExpense(r.newID(), userID, now)
		e.SyncedAt = &now
		if err := w.CreateExpense(ctx, e); err != nil {
			return nil, "", err
		}
		return e, e.ID, nil

	case schema.UpdateOp:
		r.logger.Printf("Updating expense: %s", o.ID)
		upd := db.ExpenseUpdate{
			Title:       &o.Fields.Title,
			Amount:      &o.Fields.Amount,
			Category:    &o.Fields.Category,
			Date:        o.Fields.Date,
			Description: o.Fields.Description,
			SyncedAt:    &now,
		}
		if o.Fields.Currency != "" {
			upd.Currency = &o.Fields.Currency
		}
		e, err := w.UpdateOwnedExpense(ctx, userID, o.ID, upd, now)
		if err != nil {
			return nil, "", err
		}
		return e, e.ID, nil

	case schema.DeleteOp:
		r.logger.Printf("Deleting expense: %s", o.ID)
		if _, err := w.DeleteOwnedExpense(ctx, userID, o.ID); err != nil {
			return nil, "", err
		}
		return DeleteResult{ID: o.ID, Deleted: true}, o.ID, nil

	default:
		return nil, "", fmt.Errorf("%w: unsupported operation %T", schema.ErrInvalid, op)
	}
}

func (r *reconciler) failure(req schema.SyncOperation, err error) Result {
	code := Classify(err)
	r.logger.Printf("WARNING: Sync failed for expense %s (%s): %v", req.EntityID(), code, err)

	echo := req
	return Result{
		Success:   false,
		Error:     err.Error(),
		Code:      code,
		Operation: &echo,
		LocalID:   req.LocalID,
	}
}
