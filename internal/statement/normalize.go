package statement

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RowOutcome classifies what happened to one input row during normalization.
type RowOutcome int

const (
	// RowTransaction - the row produced a canonical payment transaction.
	RowTransaction RowOutcome = iota
	// RowSkipped - non-transactional (header repeats, balance lines, outflows).
	RowSkipped
	// RowError - the row looked transactional but failed to normalize; it is
	// recorded in the batch audit, never silently invented.
	RowError
)

// NormalizedTransaction is the canonical record produced per qualifying row.
// Amount is always positive money-received, rounded half-up to 2 places.
type NormalizedTransaction struct {
	Reference   string // upper-cased; empty when no reference was extractable
	Amount      decimal.Decimal
	PaymentDate time.Time // calendar date, time-of-day discarded
	Description string
}

var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"2006/01/02",
	"2 Jan 2006",
	"02-Jan-2006",
	"20060102",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// ParseDate parses a statement date cell, trying the layout list in order.
// Any time-of-day component is dropped.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	if len(s) > 10 {
		if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date: %s", s)
}

// ParseAmount parses a money cell into a decimal, tolerating thousands
// separators, currency signs and accounting-style parentheses negatives.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, ",", "")
	for _, sym := range []string{"R", "₹", "$", "£", "€"} {
		s = strings.TrimPrefix(s, sym)
	}
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// nonTransactionalMarkers flag section-break rows that banks interleave with
// real transactions.
var nonTransactionalMarkers = []string{
	"opening balance",
	"closing balance",
	"balance brought forward",
	"balance carried forward",
	"statement of account",
	"total",
}

// NormalizeRow combines the detected schema and the reference extractor into
// one canonical transaction.
//
// Direction policy: in debit/credit pair mode only a populated credit cell is
// money received; debit rows are outflows and are skipped. In single-amount
// mode only positive values are receipts; zero/negative rows (bank charges,
// balance lines) are skipped.
func NormalizeRow(row []string, sc *Schema, patterns []ReferencePattern) (*NormalizedTransaction, RowOutcome, error) {
	if isNonTransactionalRow(row) {
		return nil, RowSkipped, nil
	}

	cell := func(idx int) string {
		if idx >= 0 && idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}

	amount, hasAmount, outcome, err := resolveAmount(row, sc, cell)
	if outcome != RowTransaction {
		return nil, outcome, err
	}

	if !hasAmount {
		// outflows, balance-only lines, header repeats
		return nil, RowSkipped, nil
	}
	date, derr := ParseDate(cell(sc.Date))
	if derr != nil {
		return nil, RowError, fmt.Errorf("row has amount %s but no parseable date: %w", amount, derr)
	}

	desc := cell(sc.Description)
	refCell := ""
	if sc.Reference >= 0 && sc.Columns[sc.Reference].Confidence >= ConfidenceThreshold {
		refCell = cell(sc.Reference)
	}
	return &NormalizedTransaction{
		Reference:   ExtractReference(refCell, desc, patterns),
		Amount:      amount.Round(2), // half-up; amounts here are always positive
		PaymentDate: date,
		Description: desc,
	}, RowTransaction, nil
}

// resolveAmount applies the direction policy and reports whether the row
// carries received money at all.
func resolveAmount(row []string, sc *Schema, cell func(int) string) (decimal.Decimal, bool, RowOutcome, error) {
	if sc.PairMode() || (sc.Credit >= 0 && sc.Amount < 0) {
		credit := cell(sc.Credit)
		if credit == "" {
			// outflow or balance-only line
			return decimal.Zero, false, RowTransaction, nil
		}
		d, err := ParseAmount(credit)
		if err != nil {
			return decimal.Zero, false, RowError, fmt.Errorf("unparseable credit amount %q: %w", credit, err)
		}
		if !d.IsPositive() {
			return decimal.Zero, false, RowError, fmt.Errorf("credit amount %q is not positive", credit)
		}
		return d, true, RowTransaction, nil
	}

	raw := cell(sc.Amount)
	if raw == "" {
		return decimal.Zero, false, RowTransaction, nil
	}
	d, err := ParseAmount(raw)
	if err != nil {
		return decimal.Zero, false, RowError, fmt.Errorf("unparseable amount %q: %w", raw, err)
	}
	if !d.IsPositive() {
		// charges, reversals and opening-balance lines are not payments
		return decimal.Zero, false, RowTransaction, nil
	}
	return d, true, RowTransaction, nil
}

func isNonTransactionalRow(row []string) bool {
	for _, c := range row {
		lc := strings.ToLower(strings.TrimSpace(c))
		if lc == "" {
			continue
		}
		// date and money cells cannot carry a marker; the first textual
		// cell decides
		if _, err := ParseDate(lc); err == nil {
			continue
		}
		if _, err := ParseAmount(lc); err == nil {
			continue
		}
		for _, marker := range nonTransactionalMarkers {
			if strings.Contains(lc, marker) {
				return true
			}
		}
		return false
	}
	return false
}
