// Package sync reconciles expense records created offline with the
// server-held copy.
//
// Overview
//
// A client that worked offline submits its queued changes as one batch of
// CREATE, UPDATE and DELETE operations. The Reconciler applies them in
// order, enforces that a user can only touch their own records, and returns
// one Result per operation so the client can retry or discard each item on
// its own. Every applied operation is written to the Ledger in the same
// transaction as the change itself.
//
// Architecture
//
//	client batch ([]schema.SyncOperation)
//	     ↓
//	Reconciler ── Resolve ──→ CreateOp | UpdateOp | DeleteOp
//	     ↓                          ↓
//	  Results            Store.WithTx { mutate; ledger entry }
//	                                ↓
//	                           Observers (cache, live push)
//
// The client then asks for LastSyncTime and pulls UpdatedSince(watermark)
// to refresh its local copy.
//
// Usage
//
//	database, err := db.Open("data/expsync.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
//
//	svc := sync.NewService(sync.NewStore(database), nil)
//
//	results := svc.Reconcile(ctx, userID, ops)
//	summary := sync.Summarize(results)
//
//	since, err := svc.LastSyncTime(ctx, userID)
//	changed, err := svc.UpdatedSince(ctx, userID, since)
//
// Error Handling
//
// Failures never stop the batch. Each failed Result carries an ErrorCode:
//
//   - NOT_FOUND: the UPDATE or DELETE target does not exist
//   - FORBIDDEN: the target belongs to another user
//   - INVALID_OPERATION: the request failed field validation
//   - STORAGE_FAILURE: anything else, including a cancelled context
//
// Concurrency
//
// A batch is processed sequentially. Concurrent batches for the same user
// are serialized by the store's write transactions; the last write received
// wins. Duplicate CREATE submissions are not deduplicated.
package sync
