package cache

import (
	"context"
	"log"
	"os"

	"github.com/ledgersync/expsync/internal/sync"
)

// Invalidator drops a user's cached views whenever a sync operation for that
// user commits.
type Invalidator struct {
	cache  Cache
	logger *log.Logger
}

// NewInvalidator creates a sync.Observer that invalidates c.
func NewInvalidator(c Cache, logger *log.Logger) *Invalidator {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}
	return &Invalidator{cache: c, logger: logger}
}

// OnOperationApplied implements sync.Observer.
func (i *Invalidator) OnOperationApplied(ctx context.Context, ev sync.Event) {
	if err := i.cache.InvalidateUser(ctx, ev.UserID); err != nil {
		i.logger.Printf("WARNING: %v", err)
	}
}

// OnBatchComplete implements sync.Observer.
func (i *Invalidator) OnBatchComplete(context.Context, string, sync.Summary) {}
