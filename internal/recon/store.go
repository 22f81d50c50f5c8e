package recon

import (
	"context"
	"errors"
)

// ErrInvoiceNotFound is returned by InvoiceByReference when no invoice
// carries the reference. It is a normal per-row outcome, not a store fault.
var ErrInvoiceNotFound = errors.New("invoice not found")

// StoreUnavailableError wraps transient store faults (connection loss,
// timeouts). Lookups hitting it are retried with backoff before the row is
// marked Failed.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return "store unavailable during " + e.Op + ": " + e.Err.Error()
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// Store is the injected persistence port for the reconciliation engine. The
// engine never touches a database handle directly, so the core logic runs
// against the in-memory implementation in tests.
type Store interface {
	// InvoiceByReference resolves a trimmed, case-insensitive reference.
	InvoiceByReference(ctx context.Context, ref string) (*Invoice, error)
	Invoice(ctx context.Context, id string) (*Invoice, error)
	InvoiceIDs(ctx context.Context) ([]string, error)

	CreateTransaction(ctx context.Context, txn *PaymentTransaction) error
	// LinkedTransactions returns every transaction linked to the invoice,
	// whatever its status.
	LinkedTransactions(ctx context.Context, invoiceID string) ([]PaymentTransaction, error)
	UpdateTransactionStatuses(ctx context.Context, ids []string, status TransactionStatus) error

	UpdateInvoiceDerived(ctx context.Context, invoiceID string, led Ledger) error
	CreateUploadBatch(ctx context.Context, batch *UploadBatch) error

	// WithInvoiceLock runs fn inside a mutual-exclusion scope keyed by
	// invoice id, so concurrent batches touching the same invoice serialize.
	// The Store passed to fn shares that scope (a transaction, for SQL
	// implementations).
	WithInvoiceLock(ctx context.Context, invoiceID string, fn func(ctx context.Context, s Store) error) error
}
