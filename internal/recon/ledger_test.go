package recon

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func txnsOf(amounts ...string) []PaymentTransaction {
	out := make([]PaymentTransaction, len(amounts))
	for i, a := range amounts {
		out[i] = PaymentTransaction{Amount: dec(a), Status: TxnMatched}
	}
	return out
}

func TestComputeLedgerStatusGrid(t *testing.T) {
	due := dec("2850")
	tests := []struct {
		name            string
		paid            []string
		wantStatus      InvoiceStatus
		wantTxnStatus   TransactionStatus
		wantPaid        string
		wantOutstanding string
		wantOverpaid    string
	}{
		{"nothing paid", nil, InvoiceUnpaid, TxnMatched, "0", "2850", "0"},
		{"partial", []string{"1000"}, InvoicePartial, TxnPartial, "1000", "1850", "0"},
		{"two partials", []string{"1000", "850"}, InvoicePartial, TxnPartial, "1850", "1000", "0"},
		{"exactly paid", []string{"2850"}, InvoicePaid, TxnMatched, "2850", "0", "0"},
		{"paid across payments", []string{"1000", "1850"}, InvoicePaid, TxnMatched, "2850", "0", "0"},
		{"overpaid", []string{"3000"}, InvoiceOverpaid, TxnOverpaid, "3000", "0", "150"},
		{"overpaid across payments", []string{"2850", "500"}, InvoiceOverpaid, TxnOverpaid, "3350", "0", "500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			led := ComputeLedger(due, txnsOf(tt.paid...))
			if led.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", led.Status, tt.wantStatus)
			}
			if led.TransactionStatus != tt.wantTxnStatus {
				t.Errorf("transaction status = %q, want %q", led.TransactionStatus, tt.wantTxnStatus)
			}
			if !led.AmountPaid.Equal(dec(tt.wantPaid)) {
				t.Errorf("amount paid = %s, want %s", led.AmountPaid, tt.wantPaid)
			}
			if !led.OutstandingBalance.Equal(dec(tt.wantOutstanding)) {
				t.Errorf("outstanding = %s, want %s", led.OutstandingBalance, tt.wantOutstanding)
			}
			if !led.OverpaidAmount.Equal(dec(tt.wantOverpaid)) {
				t.Errorf("overpaid = %s, want %s", led.OverpaidAmount, tt.wantOverpaid)
			}
		})
	}
}

func TestComputeLedgerExcludesFailedAndDuplicate(t *testing.T) {
	txns := []PaymentTransaction{
		{Amount: dec("1000"), Status: TxnMatched},
		{Amount: dec("1000"), Status: TxnDuplicate},
		{Amount: dec("500"), Status: TxnFailed},
	}
	led := ComputeLedger(dec("2850"), txns)
	if !led.AmountPaid.Equal(dec("1000")) {
		t.Errorf("amount paid = %s, want 1000", led.AmountPaid)
	}
	if led.Status != InvoicePartial {
		t.Errorf("status = %q, want %q", led.Status, InvoicePartial)
	}
}

func TestComputeLedgerZeroDueZeroPaid(t *testing.T) {
	led := ComputeLedger(decimal.Zero, nil)
	if led.Status != InvoicePaid {
		t.Errorf("status = %q, want %q", led.Status, InvoicePaid)
	}
}

func TestComputeLedgerIdempotent(t *testing.T) {
	txns := txnsOf("1000", "850", "300")
	first := ComputeLedger(dec("2850"), txns)
	second := ComputeLedger(dec("2850"), txns)
	if first.Status != second.Status ||
		!first.AmountPaid.Equal(second.AmountPaid) ||
		!first.OutstandingBalance.Equal(second.OutstandingBalance) ||
		!first.OverpaidAmount.Equal(second.OverpaidAmount) {
		t.Errorf("recomputation drifted: first %+v, second %+v", first, second)
	}
}
