package recon

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is the in-process Store implementation. It backs the engine
// tests and serves as the dev-mode fallback when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	invoices map[string]*Invoice // by id
	byRef    map[string]string   // normalized reference -> invoice id
	txns     map[string]*PaymentTransaction
	batches  map[string]*UploadBatch

	lockMu       sync.Mutex
	invoiceLocks map[string]*sync.Mutex

	// FailLookups makes the next N store calls return
	// StoreUnavailableError; used to exercise the retry path in tests.
	failMu      sync.Mutex
	FailLookups int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices:     map[string]*Invoice{},
		byRef:        map[string]string{},
		txns:         map[string]*PaymentTransaction{},
		batches:      map[string]*UploadBatch{},
		invoiceLocks: map[string]*sync.Mutex{},
	}
}

// AddInvoice seeds an invoice the way the external invoicing product would.
func (m *MemoryStore) AddInvoice(ref string, amountDue decimal.Decimal) *Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := &Invoice{
		ID:                 uuid.New().String(),
		ReferenceNumber:    ref,
		AmountDue:          amountDue,
		AmountPaid:         decimal.Zero,
		OutstandingBalance: amountDue,
		OverpaidAmount:     decimal.Zero,
		Status:             InvoiceUnpaid,
	}
	m.invoices[inv.ID] = inv
	m.byRef[normalizeRef(ref)] = inv.ID
	return inv
}

func normalizeRef(ref string) string {
	return strings.ToUpper(strings.TrimSpace(ref))
}

func (m *MemoryStore) failing() bool {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	if m.FailLookups > 0 {
		m.FailLookups--
		return true
	}
	return false
}

func (m *MemoryStore) InvoiceByReference(ctx context.Context, ref string) (*Invoice, error) {
	if m.failing() {
		return nil, &StoreUnavailableError{Op: "InvoiceByReference", Err: fmt.Errorf("injected failure")}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byRef[normalizeRef(ref)]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	inv := *m.invoices[id]
	return &inv, nil
}

func (m *MemoryStore) Invoice(ctx context.Context, id string) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *MemoryStore) InvoiceIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.invoices))
	for id := range m.invoices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) CreateTransaction(ctx context.Context, txn *PaymentTransaction) error {
	if m.failing() {
		return &StoreUnavailableError{Op: "CreateTransaction", Err: fmt.Errorf("injected failure")}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *txn
	m.txns[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) LinkedTransactions(ctx context.Context, invoiceID string) ([]PaymentTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []PaymentTransaction{}
	for _, txn := range m.txns {
		if txn.InvoiceID == invoiceID {
			out = append(out, *txn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateTransactionStatuses(ctx context.Context, ids []string, status TransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if txn, ok := m.txns[id]; ok {
			txn.Status = status
		}
	}
	return nil
}

func (m *MemoryStore) UpdateInvoiceDerived(ctx context.Context, invoiceID string, led Ledger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.AmountPaid = led.AmountPaid
	inv.OutstandingBalance = led.OutstandingBalance
	inv.OverpaidAmount = led.OverpaidAmount
	inv.Status = led.Status
	return nil
}

func (m *MemoryStore) CreateUploadBatch(ctx context.Context, batch *UploadBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *batch
	m.batches[cp.ID] = &cp
	return nil
}

// WithInvoiceLock serializes callers per invoice id with a dedicated mutex.
func (m *MemoryStore) WithInvoiceLock(ctx context.Context, invoiceID string, fn func(ctx context.Context, s Store) error) error {
	m.lockMu.Lock()
	lock, ok := m.invoiceLocks[invoiceID]
	if !ok {
		lock = &sync.Mutex{}
		m.invoiceLocks[invoiceID] = lock
	}
	m.lockMu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(ctx, m)
}

// Transactions returns a copy of all stored transactions, for tests.
func (m *MemoryStore) Transactions() []PaymentTransaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PaymentTransaction, 0, len(m.txns))
	for _, txn := range m.txns {
		out = append(out, *txn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Batches returns a copy of all audit records, for tests.
func (m *MemoryStore) Batches() []UploadBatch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]UploadBatch, 0, len(m.batches))
	for _, b := range m.batches {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
