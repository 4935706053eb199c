package sync

import (
	"log"
	"os"
)

func defaultLogger() *log.Logger {
	return log.New(os.Stderr, "[sync] ", log.LstdFlags)
}

// Service bundles the three sync components over one store: the
// Reconciler, the Ledger and the Delta query.
type Service struct {
	Reconciler
	*Ledger
	*Delta
}

// NewService wires a Reconciler, Ledger and Delta over store. The ledger
// shares the reconciler's clock and id generator.
//
// If logger is nil, a default logger writing to stderr is used.
func NewService(store Store, logger *log.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = defaultLogger()
	}
	r := newReconciler(store, logger, opts...)
	return &Service{
		Reconciler: r,
		Ledger:     r.ledger,
		Delta:      NewDelta(store, logger),
	}
}
