package recon

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the aggregate payment state of an invoice. It is derived;
// only ledger recomputation ever writes it.
type InvoiceStatus string

const (
	InvoiceUnpaid   InvoiceStatus = "Unpaid"
	InvoicePartial  InvoiceStatus = "Partial"
	InvoicePaid     InvoiceStatus = "Paid"
	InvoiceOverpaid InvoiceStatus = "Overpaid"
)

// TransactionStatus classifies one transaction's own reconciliation outcome,
// distinct from the invoice aggregate.
type TransactionStatus string

const (
	TxnUnmatched TransactionStatus = "Unmatched"
	TxnMatched   TransactionStatus = "Matched"
	TxnPartial   TransactionStatus = "Partial"
	TxnOverpaid  TransactionStatus = "Overpaid"
	TxnDuplicate TransactionStatus = "Duplicate"
	TxnFailed    TransactionStatus = "Failed"
)

// Invoice is owned by the external invoicing product. Reconciliation reads
// ReferenceNumber and AmountDue; the four derived fields are written here and
// nowhere else.
type Invoice struct {
	ID                 string
	ReferenceNumber    string
	AmountDue          decimal.Decimal
	AmountPaid         decimal.Decimal
	OutstandingBalance decimal.Decimal
	OverpaidAmount     decimal.Decimal
	Status             InvoiceStatus
}

// PaymentTransaction is created once per qualifying statement row. It is
// never deleted, only re-classified.
type PaymentTransaction struct {
	ID              string
	BatchID         string
	ReferenceNumber string // empty when no reference could be extracted
	Amount          decimal.Decimal
	PaymentDate     time.Time
	Description     string
	InvoiceID       string // empty when unlinked
	Status          TransactionStatus
	CreatedAt       time.Time
}

// Countable reports whether the transaction participates in its invoice's
// ledger. Failed and Duplicate transactions never do.
func (t *PaymentTransaction) Countable() bool {
	return t.Status != TxnFailed && t.Status != TxnDuplicate
}

// UploadBatch is the write-once audit record of one statement upload.
type UploadBatch struct {
	ID                    string
	Filename              string
	UploadedBy            string
	Checksum              string // hex SHA-256 of the uploaded file
	RowsSeen              int
	TransactionsProcessed int
	MatchedCount          int
	PartialCount          int
	OverpaidCount         int
	UnmatchedCount        int
	DuplicateCount        int
	ErrorCount            int
	CreatedAt             time.Time
}
