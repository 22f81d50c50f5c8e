package recon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"TuitionLedger/internal/statement"
)

func newTestEngine(store Store) *Engine {
	e := NewEngine(store)
	e.Backoff = time.Millisecond
	return e
}

func statementCSV(rows ...string) []byte {
	out := "Date,Description,Amount\n"
	for _, r := range rows {
		out += r + "\n"
	}
	return []byte(out)
}

func TestProcessBatchEndToEnd(t *testing.T) {
	store := NewMemoryStore()
	inv := store.AddInvoice("HAR234", dec("2850"))
	e := newTestEngine(store)

	data := statementCSV(
		"2025-03-01,OPENING BALANCE,1000.00",
		"2025-03-05,SCHOOL FEES HAR234,2850.00",
		"2025-03-06,BANK CHARGES,-45.50",
	)
	res, err := e.ProcessBatch(context.Background(), "march.csv", "bursar-1", data)
	if err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}

	if got, want := res.Batch.RowsSeen, 3; got != want {
		t.Errorf("rows seen = %d, want %d", got, want)
	}
	if got, want := res.Batch.TransactionsProcessed, 1; got != want {
		t.Errorf("transactions processed = %d, want %d", got, want)
	}
	if got, want := res.Batch.MatchedCount, 1; got != want {
		t.Errorf("matched count = %d, want %d", got, want)
	}

	got, err := store.Invoice(context.Background(), inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != InvoicePaid {
		t.Errorf("invoice status = %q, want %q", got.Status, InvoicePaid)
	}
	if !got.AmountPaid.Equal(dec("2850")) {
		t.Errorf("amount paid = %s, want 2850", got.AmountPaid)
	}
	if !got.OutstandingBalance.IsZero() {
		t.Errorf("outstanding = %s, want 0", got.OutstandingBalance)
	}

	txns := store.Transactions()
	if len(txns) != 1 {
		t.Fatalf("stored transactions = %d, want 1", len(txns))
	}
	if txns[0].Status != TxnMatched {
		t.Errorf("transaction status = %q, want %q", txns[0].Status, TxnMatched)
	}
	if txns[0].ReferenceNumber != "HAR234" {
		t.Errorf("reference = %q, want HAR234", txns[0].ReferenceNumber)
	}
	if len(store.Batches()) != 1 {
		t.Errorf("audit batches = %d, want 1", len(store.Batches()))
	}
}

func TestProcessBatchDuplicateReupload(t *testing.T) {
	store := NewMemoryStore()
	inv := store.AddInvoice("HAR234", dec("2850"))
	e := newTestEngine(store)

	data := statementCSV("2025-03-05,SCHOOL FEES HAR234,2850.00")
	if _, err := e.ProcessBatch(context.Background(), "march.csv", "bursar-1", data); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	res, err := e.ProcessBatch(context.Background(), "march.csv", "bursar-1", data)
	if err != nil {
		t.Fatalf("re-upload: %v", err)
	}

	if got, want := res.Batch.DuplicateCount, 1; got != want {
		t.Errorf("duplicate count = %d, want %d", got, want)
	}
	if got, want := res.Batch.MatchedCount, 0; got != want {
		t.Errorf("matched count = %d, want %d", got, want)
	}

	got, _ := store.Invoice(context.Background(), inv.ID)
	if got.Status != InvoicePaid {
		t.Errorf("invoice status after re-upload = %q, want %q", got.Status, InvoicePaid)
	}
	if !got.AmountPaid.Equal(dec("2850")) {
		t.Errorf("amount paid after re-upload = %s, want 2850", got.AmountPaid)
	}

	var dupes int
	for _, txn := range store.Transactions() {
		if txn.Status == TxnDuplicate {
			dupes++
		}
	}
	if dupes != 1 {
		t.Errorf("stored duplicates = %d, want 1", dupes)
	}
}

func TestProcessBatchUnmatchedReference(t *testing.T) {
	store := NewMemoryStore()
	e := newTestEngine(store)

	data := statementCSV(
		"2025-03-05,PAYMENT FROM STUDENT ZZZ999,500.00",
		"2025-03-06,CASH DEPOSIT BRANCH,750.00",
	)
	res, err := e.ProcessBatch(context.Background(), "march.csv", "bursar-1", data)
	if err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}
	if got, want := res.Batch.UnmatchedCount, 2; got != want {
		t.Errorf("unmatched count = %d, want %d", got, want)
	}
	for _, txn := range store.Transactions() {
		if txn.Status != TxnUnmatched {
			t.Errorf("transaction status = %q, want %q", txn.Status, TxnUnmatched)
		}
		if txn.InvoiceID != "" {
			t.Errorf("unmatched transaction linked to invoice %q", txn.InvoiceID)
		}
	}
}

func TestProcessBatchPartialThenPaid(t *testing.T) {
	store := NewMemoryStore()
	inv := store.AddInvoice("SUT001", dec("2850"))
	e := newTestEngine(store)

	first := statementCSV("2025-03-05,PAYMENT FROM STUDENT SUT001,1000.00")
	res, err := e.ProcessBatch(context.Background(), "first.csv", "bursar-1", first)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Batch.PartialCount, 1; got != want {
		t.Errorf("partial count = %d, want %d", got, want)
	}
	got, _ := store.Invoice(context.Background(), inv.ID)
	if got.Status != InvoicePartial || !got.OutstandingBalance.Equal(dec("1850")) {
		t.Errorf("after first upload: status %q outstanding %s, want Partial 1850", got.Status, got.OutstandingBalance)
	}

	second := statementCSV("2025-04-05,PAYMENT FROM STUDENT SUT001,1850.00")
	if _, err := e.ProcessBatch(context.Background(), "second.csv", "bursar-1", second); err != nil {
		t.Fatal(err)
	}
	got, _ = store.Invoice(context.Background(), inv.ID)
	if got.Status != InvoicePaid {
		t.Errorf("after second upload: status = %q, want %q", got.Status, InvoicePaid)
	}

	// the earlier partial is reclassified once the invoice settles
	for _, txn := range store.Transactions() {
		if txn.Status != TxnMatched {
			t.Errorf("transaction status = %q, want %q", txn.Status, TxnMatched)
		}
	}
}

func TestProcessBatchOverpaid(t *testing.T) {
	store := NewMemoryStore()
	inv := store.AddInvoice("SUT001", dec("2850"))
	e := newTestEngine(store)

	data := statementCSV(
		"2025-03-05,PAYMENT FROM STUDENT SUT001,2850.00",
		"2025-03-20,PAYMENT FROM STUDENT SUT001,500.00",
	)
	res, err := e.ProcessBatch(context.Background(), "march.csv", "bursar-1", data)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Batch.OverpaidCount, 2; got != want {
		t.Errorf("overpaid count = %d, want %d", got, want)
	}
	got, _ := store.Invoice(context.Background(), inv.ID)
	if got.Status != InvoiceOverpaid {
		t.Errorf("invoice status = %q, want %q", got.Status, InvoiceOverpaid)
	}
	if !got.OverpaidAmount.Equal(dec("500")) {
		t.Errorf("overpaid amount = %s, want 500", got.OverpaidAmount)
	}
	if !got.OutstandingBalance.IsZero() {
		t.Errorf("outstanding = %s, want 0", got.OutstandingBalance)
	}
}

func TestProcessBatchRetryRecovers(t *testing.T) {
	store := NewMemoryStore()
	inv := store.AddInvoice("HAR234", dec("2850"))
	e := newTestEngine(store)

	store.FailLookups = 2 // two transient faults, third attempt succeeds
	data := statementCSV("2025-03-05,SCHOOL FEES HAR234,2850.00")
	res, err := e.ProcessBatch(context.Background(), "march.csv", "bursar-1", data)
	if err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}
	if got, want := res.Batch.MatchedCount, 1; got != want {
		t.Errorf("matched count = %d, want %d", got, want)
	}
	got, _ := store.Invoice(context.Background(), inv.ID)
	if got.Status != InvoicePaid {
		t.Errorf("invoice status = %q, want %q", got.Status, InvoicePaid)
	}
}

func TestProcessBatchRetryExhausted(t *testing.T) {
	store := NewMemoryStore()
	inv := store.AddInvoice("HAR234", dec("2850"))
	e := newTestEngine(store)

	store.FailLookups = 3 // every lookup attempt fails, retry budget exhausted
	data := statementCSV("2025-03-05,SCHOOL FEES HAR234,2850.00")
	res, err := e.ProcessBatch(context.Background(), "march.csv", "bursar-1", data)
	if err != nil {
		t.Fatalf("a failed row must not abort the batch: %v", err)
	}
	if got, want := res.Batch.ErrorCount, 1; got != want {
		t.Errorf("error count = %d, want %d", got, want)
	}

	txns := store.Transactions()
	if len(txns) != 1 || txns[0].Status != TxnFailed {
		t.Fatalf("expected one Failed transaction, got %+v", txns)
	}
	got, _ := store.Invoice(context.Background(), inv.ID)
	if got.Status != InvoiceUnpaid {
		t.Errorf("invoice status = %q, want %q (failed rows never count)", got.Status, InvoiceUnpaid)
	}
}

func TestProcessBatchAmbiguousSchema(t *testing.T) {
	store := NewMemoryStore()
	e := newTestEngine(store)

	data := []byte("Date,Description\n" +
		"2025-03-05,PAYMENT FROM STUDENT SUT001\n")
	_, err := e.ProcessBatch(context.Background(), "march.csv", "bursar-1", data)
	if err == nil {
		t.Fatal("expected an ambiguous-schema rejection")
	}
	if len(store.Transactions()) != 0 {
		t.Error("a rejected batch must not create transactions")
	}
	// the rejection itself is still audited
	if len(store.Batches()) != 1 {
		t.Errorf("audit batches = %d, want 1", len(store.Batches()))
	}
}

func TestRecomputeByReference(t *testing.T) {
	store := NewMemoryStore()
	inv := store.AddInvoice("HAR234", dec("2850"))
	e := newTestEngine(store)

	txn := &PaymentTransaction{
		ID:              "t1",
		ReferenceNumber: "HAR234",
		Amount:          dec("2850"),
		PaymentDate:     time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		InvoiceID:       inv.ID,
		Status:          TxnMatched,
		CreatedAt:       time.Now(),
	}
	if err := store.CreateTransaction(context.Background(), txn); err != nil {
		t.Fatal(err)
	}

	led, err := e.RecomputeByReference(context.Background(), "har234")
	if err != nil {
		t.Fatalf("RecomputeByReference returned error: %v", err)
	}
	if led.Status != InvoicePaid {
		t.Errorf("ledger status = %q, want %q", led.Status, InvoicePaid)
	}
	got, _ := store.Invoice(context.Background(), inv.ID)
	if got.Status != InvoicePaid || !got.AmountPaid.Equal(dec("2850")) {
		t.Errorf("invoice not repaired: status %q paid %s", got.Status, got.AmountPaid)
	}
}

func TestRecomputeByReferenceUnknown(t *testing.T) {
	e := newTestEngine(NewMemoryStore())
	_, err := e.RecomputeByReference(context.Background(), "NOPE01")
	if !errors.Is(err, ErrInvoiceNotFound) {
		t.Fatalf("err = %v, want ErrInvoiceNotFound", err)
	}
}

func TestRepairAll(t *testing.T) {
	store := NewMemoryStore()
	a := store.AddInvoice("AAA111", dec("1000"))
	b := store.AddInvoice("BBB222", dec("2000"))
	e := newTestEngine(store)

	for _, txn := range []*PaymentTransaction{
		{ID: "t1", ReferenceNumber: "AAA111", Amount: dec("1000"), InvoiceID: a.ID, Status: TxnMatched, CreatedAt: time.Now()},
		{ID: "t2", ReferenceNumber: "BBB222", Amount: dec("500"), InvoiceID: b.ID, Status: TxnMatched, CreatedAt: time.Now()},
	} {
		if err := store.CreateTransaction(context.Background(), txn); err != nil {
			t.Fatal(err)
		}
	}
	// simulate drift in the stored aggregates
	if err := store.UpdateInvoiceDerived(context.Background(), a.ID, Ledger{
		AmountPaid:         dec("9999"),
		OutstandingBalance: dec("9999"),
		Status:             InvoiceOverpaid,
	}); err != nil {
		t.Fatal(err)
	}

	ledgers, err := e.RepairAll(context.Background())
	if err != nil {
		t.Fatalf("RepairAll returned error: %v", err)
	}
	if len(ledgers) != 2 {
		t.Fatalf("repaired %d invoices, want 2", len(ledgers))
	}

	gotA, _ := store.Invoice(context.Background(), a.ID)
	if gotA.Status != InvoicePaid || !gotA.AmountPaid.Equal(dec("1000")) {
		t.Errorf("invoice A: status %q paid %s, want Paid 1000", gotA.Status, gotA.AmountPaid)
	}
	gotB, _ := store.Invoice(context.Background(), b.ID)
	if gotB.Status != InvoicePartial || !gotB.OutstandingBalance.Equal(dec("1500")) {
		t.Errorf("invoice B: status %q outstanding %s, want Partial 1500", gotB.Status, gotB.OutstandingBalance)
	}

	// a second run changes nothing
	again, err := e.RepairAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !again[a.ID].AmountPaid.Equal(gotA.AmountPaid) || again[a.ID].Status != gotA.Status {
		t.Error("RepairAll is not idempotent")
	}
}

func TestProcessBatchNoReference(t *testing.T) {
	store := NewMemoryStore()
	store.AddInvoice("HAR234", dec("2850"))
	e := newTestEngine(store)

	data := statementCSV("2025-03-05,CASH DEPOSIT AT BRANCH COUNTER,500.00")
	res, err := e.ProcessBatch(context.Background(), "march.csv", "bursar-1", data)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Batch.UnmatchedCount, 1; got != want {
		t.Errorf("unmatched count = %d, want %d", got, want)
	}
	txns := store.Transactions()
	if len(txns) != 1 {
		t.Fatalf("stored transactions = %d, want 1", len(txns))
	}
	if txns[0].ReferenceNumber != "" {
		t.Errorf("reference = %q, want empty", txns[0].ReferenceNumber)
	}
}

// flakyCreateStore injects transient faults into CreateTransaction only,
// including creates issued inside the invoice lock.
type flakyCreateStore struct {
	*MemoryStore
	mu          sync.Mutex
	failCreates int
}

func (f *flakyCreateStore) CreateTransaction(ctx context.Context, txn *PaymentTransaction) error {
	f.mu.Lock()
	if f.failCreates > 0 {
		f.failCreates--
		f.mu.Unlock()
		return &StoreUnavailableError{Op: "CreateTransaction", Err: errors.New("transient")}
	}
	f.mu.Unlock()
	return f.MemoryStore.CreateTransaction(ctx, txn)
}

func (f *flakyCreateStore) WithInvoiceLock(ctx context.Context, invoiceID string, fn func(ctx context.Context, s Store) error) error {
	return f.MemoryStore.WithInvoiceLock(ctx, invoiceID, func(ctx context.Context, _ Store) error {
		return fn(ctx, f)
	})
}

func TestProcessBatchLinkedCreateRetries(t *testing.T) {
	mem := NewMemoryStore()
	inv := mem.AddInvoice("HAR234", dec("2850"))
	store := &flakyCreateStore{MemoryStore: mem, failCreates: 1}
	e := newTestEngine(store)

	data := statementCSV(
		"2025-03-05,SCHOOL FEES HAR234,1000.00",
		"2025-03-20,SCHOOL FEES HAR234,1850.00",
	)
	res, err := e.ProcessBatch(context.Background(), "march.csv", "bursar-1", data)
	if err != nil {
		t.Fatalf("a transient create fault must be retried, not abort the batch: %v", err)
	}
	if got, want := res.Batch.MatchedCount, 2; got != want {
		t.Errorf("matched count = %d, want %d", got, want)
	}
	if got, want := res.Batch.ErrorCount, 0; got != want {
		t.Errorf("error count = %d, want %d", got, want)
	}
	got, _ := mem.Invoice(context.Background(), inv.ID)
	if got.Status != InvoicePaid || !got.AmountPaid.Equal(dec("2850")) {
		t.Errorf("invoice: status %q paid %s, want Paid 2850", got.Status, got.AmountPaid)
	}
}

func TestProcessBatchLinkedCreateExhausted(t *testing.T) {
	mem := NewMemoryStore()
	inv := mem.AddInvoice("HAR234", dec("2850"))
	store := &flakyCreateStore{MemoryStore: mem, failCreates: 3}
	e := newTestEngine(store)

	data := statementCSV(
		"2025-03-05,SCHOOL FEES HAR234,1000.00",
		"2025-03-20,SCHOOL FEES HAR234,1850.00",
	)
	res, err := e.ProcessBatch(context.Background(), "march.csv", "bursar-1", data)
	if err != nil {
		t.Fatalf("an exhausted row must not abort its siblings: %v", err)
	}
	if got, want := res.Batch.ErrorCount, 1; got != want {
		t.Errorf("error count = %d, want %d", got, want)
	}
	if got, want := res.Batch.PartialCount, 1; got != want {
		t.Errorf("partial count = %d, want %d", got, want)
	}

	var failed, linked int
	for _, txn := range mem.Transactions() {
		switch {
		case txn.Status == TxnFailed:
			failed++
			if txn.InvoiceID != "" {
				t.Errorf("failed transaction must stay unlinked, got invoice %q", txn.InvoiceID)
			}
		case txn.InvoiceID == inv.ID:
			linked++
		}
	}
	if failed != 1 || linked != 1 {
		t.Fatalf("stored failed=%d linked=%d, want 1 and 1", failed, linked)
	}
	got, _ := mem.Invoice(context.Background(), inv.ID)
	if got.Status != InvoicePartial || !got.AmountPaid.Equal(dec("1850")) {
		t.Errorf("invoice: status %q paid %s, want Partial 1850", got.Status, got.AmountPaid)
	}
}

func TestProcessBatchConcurrentSameInvoice(t *testing.T) {
	store := NewMemoryStore()
	inv := store.AddInvoice("SUT001", dec("2850"))
	e := newTestEngine(store)

	first := statementCSV("2025-03-05,PAYMENT FROM STUDENT SUT001,1000.00")
	second := statementCSV("2025-04-05,PAYMENT FROM STUDENT SUT001,1850.00")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, data := range [][]byte{first, second} {
		wg.Add(1)
		go func(data []byte) {
			defer wg.Done()
			if _, err := e.ProcessBatch(context.Background(), "upload.csv", "bursar-1", data); err != nil {
				errs <- err
			}
		}(data)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent upload failed: %v", err)
	}

	// whichever batch recomputed last saw both linked transactions
	got, _ := store.Invoice(context.Background(), inv.ID)
	if got.Status != InvoicePaid {
		t.Errorf("invoice status = %q, want %q", got.Status, InvoicePaid)
	}
	if !got.AmountPaid.Equal(dec("2850")) || !got.OutstandingBalance.IsZero() {
		t.Errorf("aggregate paid %s outstanding %s, want 2850 and 0", got.AmountPaid, got.OutstandingBalance)
	}
	txns := store.Transactions()
	if len(txns) != 2 {
		t.Fatalf("stored transactions = %d, want 2", len(txns))
	}
	for _, txn := range txns {
		if txn.Status != TxnMatched {
			t.Errorf("transaction status = %q, want %q", txn.Status, TxnMatched)
		}
	}
}

func TestProcessBatchMalformedFileAudited(t *testing.T) {
	store := NewMemoryStore()
	e := newTestEngine(store)

	_, err := e.ProcessBatch(context.Background(), "empty.csv", "bursar-1", nil)
	var malformed *statement.MalformedInputError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedInputError, got %v", err)
	}
	if len(store.Batches()) != 1 {
		t.Errorf("audit batches = %d, want 1 (rejections are traceable)", len(store.Batches()))
	}
}
