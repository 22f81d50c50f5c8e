package recon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"TuitionLedger/internal/checksum"
	"TuitionLedger/internal/statement"
)

// RowStager is an optional Store extension: implementations that can keep the
// raw uploaded rows for traceability (the Postgres store stages them with
// CopyFrom) receive every batch before reconciliation starts.
type RowStager interface {
	StageRows(ctx context.Context, batchID string, header []string, rows [][]string) error
}

// Engine drives a statement upload end to end: parse, detect schema,
// normalize, link transactions to invoices and recompute the touched
// ledgers. It owns transaction linking; invoice aggregates are owned by
// ComputeLedger.
type Engine struct {
	Patterns       []statement.ReferencePattern
	Parser         statement.ParserOptions
	LookupAttempts int
	Backoff        time.Duration

	store Store
	now   func() time.Time
}

func NewEngine(store Store) *Engine {
	return &Engine{
		Patterns:       statement.DefaultReferencePatterns(),
		Parser:         statement.DefaultParserOptions(),
		LookupAttempts: 3,
		Backoff:        100 * time.Millisecond,
		store:          store,
		now:            time.Now,
	}
}

// BatchResult is the outcome of one upload: the audit record, the created
// transactions and the recomputed ledger of every invoice the batch touched.
type BatchResult struct {
	Batch        UploadBatch
	Transactions []PaymentTransaction
	Ledgers      map[string]Ledger
}

// ProcessBatch runs one uploaded statement file through the full pipeline.
// Row-level problems are absorbed into the audit counters; only undecodable
// files, ambiguous schemas and store outages beyond the retry budget abort
// the batch. An aborted batch still returns the counters gathered so far.
func (e *Engine) ProcessBatch(ctx context.Context, filename, uploadedBy string, data []byte) (*BatchResult, error) {
	res := &BatchResult{
		Batch: UploadBatch{
			ID:         uuid.New().String(),
			Filename:   filename,
			UploadedBy: uploadedBy,
			Checksum:   checksum.Digest(data),
			CreatedAt:  e.now(),
		},
		Ledgers: map[string]Ledger{},
	}

	table, err := statement.ParseStatementFile(filename, data, e.Parser)
	if err != nil {
		// an undecodable file is still a traceable upload attempt
		e.writeAudit(ctx, &res.Batch)
		return res, err
	}
	res.Batch.RowsSeen = len(table.Rows) + len(table.Skipped)
	res.Batch.ErrorCount = len(table.Skipped)

	sc, err := statement.DetectSchema(table, e.Patterns)
	if err != nil {
		// a wrong global column mapping would corrupt every row; reject
		e.writeAudit(ctx, &res.Batch)
		return res, err
	}

	if stager, ok := e.store.(RowStager); ok {
		if serr := stager.StageRows(ctx, res.Batch.ID, table.Header, table.Rows); serr != nil {
			log.Printf("[recon] staging raw rows for batch %s failed: %v", res.Batch.ID, serr)
		}
	}

	normalized := make([]*statement.NormalizedTransaction, 0, len(table.Rows))
	for _, row := range table.Rows {
		txn, outcome, nerr := statement.NormalizeRow(row, sc, e.Patterns)
		switch outcome {
		case statement.RowTransaction:
			normalized = append(normalized, txn)
		case statement.RowError:
			log.Printf("[recon] batch %s row error: %v", res.Batch.ID, nerr)
			res.Batch.ErrorCount++
		}
	}
	res.Batch.TransactionsProcessed = len(normalized)

	affected := map[string]bool{}
	for _, n := range normalized {
		txn, lerr := e.linkTransaction(ctx, res.Batch.ID, n)
		if lerr != nil {
			// could not even persist the row: abort, but leave every invoice
			// touched so far consistent before surfacing the error
			e.recomputeAffected(ctx, affected, res)
			e.writeAudit(ctx, &res.Batch)
			return res, lerr
		}
		res.Transactions = append(res.Transactions, *txn)
		if txn.InvoiceID != "" && txn.Countable() {
			affected[txn.InvoiceID] = true
		}
	}

	if rerr := e.recomputeAffected(ctx, affected, res); rerr != nil {
		e.writeAudit(ctx, &res.Batch)
		return res, rerr
	}

	e.countOutcomes(res)
	if aerr := e.writeAudit(ctx, &res.Batch); aerr != nil {
		return res, aerr
	}
	return res, nil
}

// linkTransaction resolves the invoice for one normalized row and persists
// the transaction. Linking happens under the invoice lock so two concurrent
// batches referencing the same invoice serialize; classification stays
// provisional until the deferred recompute.
func (e *Engine) linkTransaction(ctx context.Context, batchID string, n *statement.NormalizedTransaction) (*PaymentTransaction, error) {
	txn := &PaymentTransaction{
		ID:              uuid.New().String(),
		BatchID:         batchID,
		ReferenceNumber: n.Reference,
		Amount:          n.Amount,
		PaymentDate:     n.PaymentDate,
		Description:     n.Description,
		Status:          TxnUnmatched,
		CreatedAt:       e.now(),
	}

	if n.Reference == "" {
		return txn, e.createWithRetry(ctx, txn)
	}

	inv, err := e.lookupWithRetry(ctx, n.Reference)
	switch {
	case errors.Is(err, ErrInvoiceNotFound):
		return txn, e.createWithRetry(ctx, txn)
	case err != nil:
		// retry budget exhausted: the row is recorded as Failed, siblings
		// continue
		txn.Status = TxnFailed
		return txn, e.createWithRetry(ctx, txn)
	}

	linkErr := e.withRetry(ctx, func() error {
		return e.store.WithInvoiceLock(ctx, inv.ID, func(ctx context.Context, s Store) error {
			linked, err := s.LinkedTransactions(ctx, inv.ID)
			if err != nil {
				return err
			}
			txn.InvoiceID = inv.ID
			if isDuplicate(txn, linked) {
				txn.Status = TxnDuplicate
			} else {
				txn.Status = TxnMatched // provisional until recompute
			}
			return s.CreateTransaction(ctx, txn)
		})
	})
	var unavailable *StoreUnavailableError
	if errors.As(linkErr, &unavailable) {
		// retry budget exhausted inside the lock: the row goes down as
		// Failed and unlinked, siblings continue
		txn.InvoiceID = ""
		txn.Status = TxnFailed
		return txn, e.createWithRetry(ctx, txn)
	}
	return txn, linkErr
}

// isDuplicate guards against re-uploading the same statement: same
// reference, amount and payment date already linked to the same invoice.
// Two legitimate same-day, same-amount payments are a known false-positive
// risk; duplicates are therefore kept and flagged, never dropped.
func isDuplicate(txn *PaymentTransaction, linked []PaymentTransaction) bool {
	for i := range linked {
		if linked[i].ReferenceNumber == txn.ReferenceNumber &&
			linked[i].Amount.Equal(txn.Amount) &&
			linked[i].PaymentDate.Equal(txn.PaymentDate) {
			return true
		}
	}
	return false
}

func (e *Engine) recomputeAffected(ctx context.Context, affected map[string]bool, res *BatchResult) error {
	var firstErr error
	for invoiceID := range affected {
		led, err := e.RecomputeInvoice(ctx, invoiceID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		res.Ledgers[invoiceID] = led
	}
	return firstErr
}

// RecomputeInvoice re-derives one invoice's aggregate from its full linked
// transaction set in a single atomic step. Safe to re-run at any time.
func (e *Engine) RecomputeInvoice(ctx context.Context, invoiceID string) (Ledger, error) {
	var led Ledger
	err := e.store.WithInvoiceLock(ctx, invoiceID, func(ctx context.Context, s Store) error {
		inv, err := s.Invoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		txns, err := s.LinkedTransactions(ctx, invoiceID)
		if err != nil {
			return err
		}
		led = ComputeLedger(inv.AmountDue, txns)
		if err := s.UpdateInvoiceDerived(ctx, invoiceID, led); err != nil {
			return err
		}
		ids := make([]string, 0, len(txns))
		for i := range txns {
			if txns[i].Countable() {
				ids = append(ids, txns[i].ID)
			}
		}
		if len(ids) == 0 {
			return nil
		}
		return s.UpdateTransactionStatuses(ctx, ids, led.TransactionStatus)
	})
	return led, err
}

// RecomputeByReference resolves a reference and recomputes that invoice.
func (e *Engine) RecomputeByReference(ctx context.Context, ref string) (Ledger, error) {
	inv, err := e.lookupWithRetry(ctx, ref)
	if err != nil {
		return Ledger{}, err
	}
	return e.RecomputeInvoice(ctx, inv.ID)
}

// RepairAll recomputes every invoice from its currently linked transactions.
// This is the operational correction path: no file re-upload, same function
// as the ingestion path.
func (e *Engine) RepairAll(ctx context.Context) (map[string]Ledger, error) {
	ids, err := e.store.InvoiceIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Ledger, len(ids))
	var firstErr error
	for _, id := range ids {
		led, rerr := e.RecomputeInvoice(ctx, id)
		if rerr != nil {
			if firstErr == nil {
				firstErr = rerr
			}
			continue
		}
		out[id] = led
	}
	return out, firstErr
}

// countOutcomes fills the audit counters from final transaction statuses.
func (e *Engine) countOutcomes(res *BatchResult) {
	for i := range res.Transactions {
		txn := &res.Transactions[i]
		if txn.InvoiceID != "" && txn.Countable() {
			// final classification is a property of the recomputed invoice
			txn.Status = res.Ledgers[txn.InvoiceID].TransactionStatus
		}
		switch txn.Status {
		case TxnMatched:
			res.Batch.MatchedCount++
		case TxnPartial:
			res.Batch.PartialCount++
		case TxnOverpaid:
			res.Batch.OverpaidCount++
		case TxnUnmatched:
			res.Batch.UnmatchedCount++
		case TxnDuplicate:
			res.Batch.DuplicateCount++
		case TxnFailed:
			res.Batch.ErrorCount++
		}
	}
}

func (e *Engine) writeAudit(ctx context.Context, batch *UploadBatch) error {
	if err := e.store.CreateUploadBatch(ctx, batch); err != nil {
		return fmt.Errorf("write upload audit: %w", err)
	}
	return nil
}

// withRetry retries transient store faults with doubling backoff. Anything
// other than StoreUnavailableError returns immediately; exhaustion returns
// the last fault.
func (e *Engine) withRetry(ctx context.Context, op func() error) error {
	backoff := e.Backoff
	var lastErr error
	for attempt := 1; attempt <= e.LookupAttempts; attempt++ {
		err := op()
		var unavailable *StoreUnavailableError
		if err == nil || !errors.As(err, &unavailable) {
			return err
		}
		lastErr = err
		if attempt == e.LookupAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

func (e *Engine) lookupWithRetry(ctx context.Context, ref string) (*Invoice, error) {
	var inv *Invoice
	err := e.withRetry(ctx, func() error {
		var lerr error
		inv, lerr = e.store.InvoiceByReference(ctx, ref)
		return lerr
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (e *Engine) createWithRetry(ctx context.Context, txn *PaymentTransaction) error {
	return e.withRetry(ctx, func() error {
		return e.store.CreateTransaction(ctx, txn)
	})
}
