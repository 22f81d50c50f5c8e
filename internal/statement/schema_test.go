package statement

import (
	"errors"
	"testing"
)

func TestDetectSchemaHeadered(t *testing.T) {
	table := &Table{
		Header: []string{"Date", "Description", "Amount"},
		Rows: [][]string{
			{"2025-03-01", "PAYMENT FROM STUDENT SUT001", "500.00"},
			{"2025-03-02", "EFT DEPOSIT HAR234", "2850.00"},
		},
	}
	sc, err := DetectSchema(table, DefaultReferencePatterns())
	if err != nil {
		t.Fatalf("DetectSchema returned error: %v", err)
	}
	if sc.Date != 0 || sc.Description != 1 || sc.Amount != 2 {
		t.Errorf("got date=%d description=%d amount=%d, want 0 1 2", sc.Date, sc.Description, sc.Amount)
	}
	if sc.PairMode() {
		t.Error("single amount column should not be pair mode")
	}
}

func TestDetectSchemaDebitCreditPair(t *testing.T) {
	table := &Table{
		Header: []string{"Date", "Details", "Debit", "Credit", "Balance"},
		Rows: [][]string{
			{"2025-03-01", "SCHOOL FEES SUT001", "", "500.00", "1500.00"},
			{"2025-03-02", "BANK CHARGES", "45.00", "", "1455.00"},
		},
	}
	sc, err := DetectSchema(table, DefaultReferencePatterns())
	if err != nil {
		t.Fatalf("DetectSchema returned error: %v", err)
	}
	if !sc.PairMode() {
		t.Fatal("expected pair mode for a debit/credit export")
	}
	if sc.Debit != 2 || sc.Credit != 3 {
		t.Errorf("got debit=%d credit=%d, want 2 3", sc.Debit, sc.Credit)
	}
	if sc.Balance != 4 {
		t.Errorf("got balance=%d, want 4", sc.Balance)
	}
	if sc.Description != 1 {
		t.Errorf("got description=%d, want 1", sc.Description)
	}
}

func TestDetectSchemaHeaderless(t *testing.T) {
	table := &Table{
		Rows: [][]string{
			{"2025-03-01", "PAYMENT FROM STUDENT SUT001", "500.00"},
			{"2025-03-02", "EFT DEPOSIT RECEIVED HAR234", "2850.00"},
			{"2025-03-03", "CASH DEPOSIT BRANCH MOK101", "1200.00"},
		},
	}
	sc, err := DetectSchema(table, DefaultReferencePatterns())
	if err != nil {
		t.Fatalf("DetectSchema returned error: %v", err)
	}
	if sc.Date != 0 {
		t.Errorf("got date=%d, want 0", sc.Date)
	}
	if sc.Amount != 2 {
		t.Errorf("got amount=%d, want 2", sc.Amount)
	}
}

func TestDetectSchemaHeaderlessSecondDecimalIsBalance(t *testing.T) {
	table := &Table{
		Rows: [][]string{
			{"2025-03-01", "FEES RECEIVED WITH THANKS", "500.00", "1500.00"},
			{"2025-03-02", "DEPOSIT RECEIVED AT BRANCH", "300.00", "1800.00"},
		},
	}
	sc, err := DetectSchema(table, DefaultReferencePatterns())
	if err != nil {
		t.Fatalf("DetectSchema returned error: %v", err)
	}
	if sc.Amount < 0 {
		t.Fatal("expected an amount column")
	}
	if sc.Balance < 0 {
		t.Error("expected the trailing decimal column to be treated as balance")
	}
	if sc.Amount == sc.Balance {
		t.Errorf("amount and balance resolved to the same column %d", sc.Amount)
	}
}

func TestDetectSchemaMissingAmount(t *testing.T) {
	table := &Table{
		Header: []string{"Date", "Description"},
		Rows: [][]string{
			{"2025-03-01", "PAYMENT FROM STUDENT SUT001"},
			{"2025-03-02", "EFT DEPOSIT HAR234"},
		},
	}
	_, err := DetectSchema(table, DefaultReferencePatterns())
	var ambiguous *SchemaAmbiguousError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("expected SchemaAmbiguousError, got %v", err)
	}
	if ambiguous.Role != RoleAmount {
		t.Errorf("ambiguous role = %q, want %q", ambiguous.Role, RoleAmount)
	}
}

func TestDetectSchemaMissingDate(t *testing.T) {
	table := &Table{
		Header: []string{"Description", "Amount"},
		Rows: [][]string{
			{"PAYMENT FROM STUDENT SUT001", "500.00"},
			{"EFT DEPOSIT HAR234", "2850.00"},
		},
	}
	_, err := DetectSchema(table, DefaultReferencePatterns())
	var ambiguous *SchemaAmbiguousError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("expected SchemaAmbiguousError, got %v", err)
	}
	if ambiguous.Role != RoleDate {
		t.Errorf("ambiguous role = %q, want %q", ambiguous.Role, RoleDate)
	}
}
