package store

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"TuitionLedger/internal/recon"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same store
// code runs pooled or inside the per-invoice lock transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements recon.Store on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

// EnsureSchema creates the reconciliation tables when they do not exist yet.
// The invoices table is owned by the invoicing product; it is only created
// here so a fresh dev database works out of the box.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS invoices (
			invoice_id          TEXT PRIMARY KEY,
			reference_number    TEXT NOT NULL UNIQUE,
			amount_due          NUMERIC(14,2) NOT NULL DEFAULT 0,
			amount_paid         NUMERIC(14,2) NOT NULL DEFAULT 0,
			outstanding_balance NUMERIC(14,2) NOT NULL DEFAULT 0,
			overpaid_amount     NUMERIC(14,2) NOT NULL DEFAULT 0,
			status              TEXT NOT NULL DEFAULT 'Unpaid'
		);
		CREATE TABLE IF NOT EXISTS payment_transactions (
			transaction_id   TEXT PRIMARY KEY,
			batch_id         TEXT NOT NULL,
			reference_number TEXT,
			amount           NUMERIC(14,2) NOT NULL,
			payment_date     DATE NOT NULL,
			description      TEXT,
			invoice_id       TEXT REFERENCES invoices(invoice_id),
			status           TEXT NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_payment_transactions_invoice
			ON payment_transactions(invoice_id);
		CREATE TABLE IF NOT EXISTS upload_batches (
			batch_id               TEXT PRIMARY KEY,
			filename               TEXT NOT NULL,
			uploaded_by            TEXT,
			checksum               TEXT,
			rows_seen              INT NOT NULL,
			transactions_processed INT NOT NULL,
			matched_count          INT NOT NULL,
			partial_count          INT NOT NULL,
			overpaid_count         INT NOT NULL,
			unmatched_count        INT NOT NULL,
			duplicate_count        INT NOT NULL,
			error_count            INT NOT NULL,
			created_at             TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS statement_staging_rows (
			staging_id  TEXT PRIMARY KEY,
			batch_id    TEXT NOT NULL,
			row_index   INT NOT NULL,
			raw_payload JSONB NOT NULL,
			uploaded_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return unavailable("EnsureSchema", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return &recon.StoreUnavailableError{Op: op, Err: err}
}

func (s *PostgresStore) InvoiceByReference(ctx context.Context, ref string) (*recon.Invoice, error) {
	norm := strings.ToUpper(strings.TrimSpace(ref))
	return s.scanInvoice(ctx, "InvoiceByReference", `
		SELECT invoice_id, reference_number, amount_due::text, amount_paid::text,
		       outstanding_balance::text, overpaid_amount::text, status
		FROM invoices WHERE UPPER(TRIM(reference_number)) = $1`, norm)
}

func (s *PostgresStore) Invoice(ctx context.Context, id string) (*recon.Invoice, error) {
	return s.scanInvoice(ctx, "Invoice", `
		SELECT invoice_id, reference_number, amount_due::text, amount_paid::text,
		       outstanding_balance::text, overpaid_amount::text, status
		FROM invoices WHERE invoice_id = $1`, id)
}

func (s *PostgresStore) scanInvoice(ctx context.Context, op, query string, arg any) (*recon.Invoice, error) {
	var (
		inv    recon.Invoice
		due    string
		paid   string
		outst  string
		over   string
		status string
	)
	err := s.q.QueryRow(ctx, query, arg).Scan(
		&inv.ID, &inv.ReferenceNumber, &due, &paid, &outst, &over, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, recon.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, unavailable(op, err)
	}
	inv.AmountDue, _ = decimal.NewFromString(due)
	inv.AmountPaid, _ = decimal.NewFromString(paid)
	inv.OutstandingBalance, _ = decimal.NewFromString(outst)
	inv.OverpaidAmount, _ = decimal.NewFromString(over)
	inv.Status = recon.InvoiceStatus(status)
	return &inv, nil
}

func (s *PostgresStore) InvoiceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.q.Query(ctx, `SELECT invoice_id FROM invoices ORDER BY invoice_id`)
	if err != nil {
		return nil, unavailable("InvoiceIDs", err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("InvoiceIDs", err)
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, unavailable("InvoiceIDs", rows.Err())
	}
	return ids, nil
}

func (s *PostgresStore) CreateTransaction(ctx context.Context, txn *recon.PaymentTransaction) error {
	var invoiceID *string
	if txn.InvoiceID != "" {
		invoiceID = &txn.InvoiceID
	}
	var ref *string
	if txn.ReferenceNumber != "" {
		ref = &txn.ReferenceNumber
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO payment_transactions
			(transaction_id, batch_id, reference_number, amount, payment_date,
			 description, invoice_id, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		txn.ID, txn.BatchID, ref, txn.Amount.StringFixed(2), txn.PaymentDate,
		txn.Description, invoiceID, string(txn.Status), txn.CreatedAt)
	if err != nil {
		return unavailable("CreateTransaction", err)
	}
	return nil
}

func (s *PostgresStore) LinkedTransactions(ctx context.Context, invoiceID string) ([]recon.PaymentTransaction, error) {
	rows, err := s.q.Query(ctx, `
		SELECT transaction_id, batch_id, COALESCE(reference_number,''), amount::text,
		       payment_date, COALESCE(description,''), status, created_at
		FROM payment_transactions WHERE invoice_id = $1
		ORDER BY created_at, transaction_id`, invoiceID)
	if err != nil {
		return nil, unavailable("LinkedTransactions", err)
	}
	defer rows.Close()
	out := []recon.PaymentTransaction{}
	for rows.Next() {
		var (
			txn    recon.PaymentTransaction
			amount string
			status string
		)
		if err := rows.Scan(&txn.ID, &txn.BatchID, &txn.ReferenceNumber, &amount,
			&txn.PaymentDate, &txn.Description, &status, &txn.CreatedAt); err != nil {
			return nil, unavailable("LinkedTransactions", err)
		}
		txn.Amount, _ = decimal.NewFromString(amount)
		txn.Status = recon.TransactionStatus(status)
		txn.InvoiceID = invoiceID
		out = append(out, txn)
	}
	if rows.Err() != nil {
		return nil, unavailable("LinkedTransactions", rows.Err())
	}
	return out, nil
}

func (s *PostgresStore) UpdateTransactionStatuses(ctx context.Context, ids []string, status recon.TransactionStatus) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.q.Exec(ctx, `
		UPDATE payment_transactions SET status = $1 WHERE transaction_id = ANY($2)`,
		string(status), ids)
	if err != nil {
		return unavailable("UpdateTransactionStatuses", err)
	}
	return nil
}

func (s *PostgresStore) UpdateInvoiceDerived(ctx context.Context, invoiceID string, led recon.Ledger) error {
	_, err := s.q.Exec(ctx, `
		UPDATE invoices
		SET amount_paid = $1, outstanding_balance = $2, overpaid_amount = $3, status = $4
		WHERE invoice_id = $5`,
		led.AmountPaid.StringFixed(2), led.OutstandingBalance.StringFixed(2),
		led.OverpaidAmount.StringFixed(2), string(led.Status), invoiceID)
	if err != nil {
		return unavailable("UpdateInvoiceDerived", err)
	}
	return nil
}

func (s *PostgresStore) CreateUploadBatch(ctx context.Context, batch *recon.UploadBatch) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO upload_batches
			(batch_id, filename, uploaded_by, checksum, rows_seen,
			 transactions_processed, matched_count, partial_count,
			 overpaid_count, unmatched_count, duplicate_count, error_count,
			 created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		batch.ID, batch.Filename, batch.UploadedBy, batch.Checksum,
		batch.RowsSeen, batch.TransactionsProcessed, batch.MatchedCount,
		batch.PartialCount, batch.OverpaidCount, batch.UnmatchedCount,
		batch.DuplicateCount, batch.ErrorCount, batch.CreatedAt)
	if err != nil {
		return unavailable("CreateUploadBatch", err)
	}
	return nil
}

// StageRows keeps the raw uploaded rows per batch for traceability. Bulk
// loaded with CopyFrom; the reconciliation logic never reads them back.
func (s *PostgresStore) StageRows(ctx context.Context, batchID string, header []string, rows [][]string) error {
	now := time.Now()
	copyRows := make([][]any, 0, len(rows))
	for i, row := range rows {
		payload := map[string]any{"cells": row}
		if header != nil {
			named := map[string]string{}
			for j, h := range header {
				if j < len(row) {
					named[h] = row[j]
				}
			}
			payload["named"] = named
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		copyRows = append(copyRows, []any{uuid.New().String(), batchID, i, raw, now})
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"statement_staging_rows"},
		[]string{"staging_id", "batch_id", "row_index", "raw_payload", "uploaded_at"},
		pgx.CopyFromRows(copyRows))
	if err != nil {
		return unavailable("StageRows", err)
	}
	return nil
}

// WithInvoiceLock serializes writers per invoice with an advisory lock held
// for the life of one transaction. Ledger recomputation runs entirely inside
// it, making the read-modify-write of the four derived fields atomic.
func (s *PostgresStore) WithInvoiceLock(ctx context.Context, invoiceID string, fn func(ctx context.Context, st recon.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("WithInvoiceLock", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(invoiceID)); err != nil {
		return unavailable("WithInvoiceLock", err)
	}
	if err := fn(ctx, &PostgresStore{pool: s.pool, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable("WithInvoiceLock", err)
	}
	return nil
}

func advisoryKey(invoiceID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(invoiceID))
	return int64(h.Sum64())
}
