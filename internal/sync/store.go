package sync

import (
	"context"

	"github.com/ledgersync/expsync/internal/db"
)

// dbStore adapts *db.DB to Store.
type dbStore struct {
	*db.DB
}

// NewStore wraps an open database as a Store.
func NewStore(database *db.DB) Store {
	return dbStore{DB: database}
}

// WithTx implements Store.WithTx.
func (s dbStore) WithTx(ctx context.Context, fn func(w Writer) error) error {
	return s.DB.WithTx(ctx, func(tx *db.Tx) error {
		return fn(tx)
	})
}
