package schema

import "time"

// SyncLogEntry is one append-only row of the sync ledger. Entries are never
// mutated or deleted; the newest entry per user is the client's next watermark.
type SyncLogEntry struct {
	ID         string        `json:"id"`
	UserID     string        `json:"userId"`
	Operation  OperationKind `json:"operation"`
	EntityID   string        `json:"entityId"`
	EntityType string        `json:"entityType"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Validate checks if the SyncLogEntry has valid field values.
func (e *SyncLogEntry) Validate() error {
	if e.ID == "" {
		return invalid("id", "id is required")
	}
	if e.UserID == "" {
		return invalid("userId", "user id is required")
	}
	if !e.Operation.IsValid() {
		return invalid("operation", "operation must be CREATE, UPDATE or DELETE (got "+string(e.Operation)+")")
	}
	if e.EntityID == "" {
		return invalid("entityId", "entity id is required")
	}
	if e.EntityType == "" {
		return invalid("entityType", "entity type is required")
	}
	if e.Timestamp.IsZero() {
		return invalid("timestamp", "timestamp is required")
	}
	return nil
}
