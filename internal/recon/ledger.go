package recon

import "github.com/shopspring/decimal"

// Ledger holds the derived payment fields of one invoice, recomputed in full
// from its linked transactions. There is no incremental variant: the same
// pure function serves the ingestion path and the standalone repair run, so
// the two can never drift.
type Ledger struct {
	AmountPaid         decimal.Decimal
	OutstandingBalance decimal.Decimal
	OverpaidAmount     decimal.Decimal
	Status             InvoiceStatus

	// TransactionStatus is the classification implied by the aggregate for
	// every countable transaction currently linked to the invoice.
	TransactionStatus TransactionStatus
}

// ComputeLedger derives the invoice aggregate from the full linked set.
// Failed and Duplicate transactions are excluded from the sum. Idempotent:
// the result depends only on amountDue and the transaction set.
func ComputeLedger(amountDue decimal.Decimal, txns []PaymentTransaction) Ledger {
	paid := decimal.Zero
	for i := range txns {
		if txns[i].Countable() {
			paid = paid.Add(txns[i].Amount)
		}
	}

	led := Ledger{
		AmountPaid:         paid,
		OutstandingBalance: decimal.Max(decimal.Zero, amountDue.Sub(paid)),
		OverpaidAmount:     decimal.Max(decimal.Zero, paid.Sub(amountDue)),
	}
	switch {
	case paid.GreaterThan(amountDue):
		led.Status = InvoiceOverpaid
		led.TransactionStatus = TxnOverpaid
	case paid.Equal(amountDue):
		led.Status = InvoicePaid
		led.TransactionStatus = TxnMatched
	case paid.IsPositive():
		led.Status = InvoicePartial
		led.TransactionStatus = TxnPartial
	default:
		led.Status = InvoiceUnpaid
		led.TransactionStatus = TxnMatched
	}
	return led
}
