package reconciliation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"TuitionLedger/internal/logger"
	"TuitionLedger/internal/recon"
)

// Handler: RecomputeInvoices
// Standalone repair operation: recompute derived payment fields for every
// invoice, or for a requested subset of references, from the currently
// linked transactions. No file re-upload involved.
func RecomputeInvoices(engine *recon.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req struct {
			References []string `json:"references"`
		}
		if r.Body != nil {
			// an empty body means "repair everything"
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		results := map[string]invoiceSummary{}
		failed := map[string]string{}

		if len(req.References) == 0 {
			ledgers, err := engine.RepairAll(ctx)
			if err != nil && len(ledgers) == 0 {
				http.Error(w, "Repair run failed: "+err.Error(), http.StatusInternalServerError)
				return
			}
			for id, led := range ledgers {
				results[id] = ledgerSummary(id, led)
			}
			if err != nil {
				failed["_partial"] = err.Error()
			}
			logger.GlobalLogger.LogAudit(fmt.Sprintf("Manual repair run recomputed %d invoices", len(ledgers)))
		} else {
			for _, ref := range req.References {
				led, err := engine.RecomputeByReference(ctx, ref)
				if errors.Is(err, recon.ErrInvoiceNotFound) {
					failed[ref] = "invoice not found"
					continue
				}
				if err != nil {
					failed[ref] = err.Error()
					continue
				}
				results[ref] = ledgerSummary(ref, led)
			}
			logger.GlobalLogger.LogAudit(fmt.Sprintf("Manual repair recomputed %d of %d requested invoices", len(results), len(req.References)))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":    len(failed) == 0,
			"recomputed": results,
			"failed":     failed,
		})
	}
}

func ledgerSummary(id string, led recon.Ledger) invoiceSummary {
	return invoiceSummary{
		InvoiceID:          id,
		AmountPaid:         led.AmountPaid.StringFixed(2),
		OutstandingBalance: led.OutstandingBalance.StringFixed(2),
		OverpaidAmount:     led.OverpaidAmount.StringFixed(2),
		Status:             string(led.Status),
	}
}
