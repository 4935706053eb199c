// Package schema defines the records exchanged between offline clients and the
// expsync server.
//
// # Overview
//
// Three shapes live here:
//
//   - Expense: the server-held copy of a personal expense record
//   - SyncOperation: one client-submitted change (CREATE, UPDATE or DELETE)
//   - SyncLogEntry: one append-only ledger row per applied operation
//
// # Operations
//
// A SyncOperation is the wire form a client sends. Before it touches storage it is
// resolved into a tagged variant (CreateOp, UpdateOp or DeleteOp) so consumers
// switch on a closed set of shapes instead of probing optional fields:
//
//	op, err := req.Resolve()
//	if err != nil {
//	    // err matches schema.ErrInvalid
//	}
//	switch op := op.(type) {
//	case schema.CreateOp:
//	case schema.UpdateOp:
//	case schema.DeleteOp:
//	}
//
// An UPDATE or DELETE without a server id resolves to a CreateOp, which is how
// records created offline reach the server for the first time.
//
// # Amounts
//
// Amounts are decimal.Decimal values and travel as JSON numbers:
//
//	{"title": "Coffee", "amount": 3.5, "category": "Food", "operation": "CREATE"}
package schema
