package reconciliation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"TuitionLedger/internal/config"
	"TuitionLedger/internal/logger"
	"TuitionLedger/internal/recon"
	"TuitionLedger/internal/statement"
)

// batchSummary is the per-file slice of the upload response.
type batchSummary struct {
	BatchID               string           `json:"batch_id"`
	Filename              string           `json:"filename"`
	Checksum              string           `json:"checksum"`
	RowsSeen              int              `json:"rows_seen"`
	TransactionsProcessed int              `json:"transactions_processed"`
	MatchedCount          int              `json:"matched_count"`
	PartialCount          int              `json:"partial_count"`
	OverpaidCount         int              `json:"overpaid_count"`
	UnmatchedCount        int              `json:"unmatched_count"`
	DuplicateCount        int              `json:"duplicate_count"`
	ErrorCount            int              `json:"error_count"`
	Invoices              []invoiceSummary `json:"invoices,omitempty"`
	Error                 string           `json:"error,omitempty"`
}

type invoiceSummary struct {
	InvoiceID          string `json:"invoice_id"`
	AmountPaid         string `json:"amount_paid"`
	OutstandingBalance string `json:"outstanding_balance"`
	OverpaidAmount     string `json:"overpaid_amount"`
	Status             string `json:"status"`
}

// Handler: UploadBankStatement
// Accepts one or more statement files and reconciles them against open
// invoices. Row-level problems land in the batch counters; an undecodable
// file or ambiguous schema rejects that file with its partial counts.
func UploadBankStatement(engine *recon.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := r.ParseMultipartForm(config.MaxUploadBytes); err != nil {
			http.Error(w, "Failed to parse multipart form", http.StatusBadRequest)
			return
		}
		uploadedBy := r.FormValue("user_id")
		if uploadedBy == "" {
			http.Error(w, "user_id required in form", http.StatusBadRequest)
			return
		}
		files := r.MultipartForm.File["file"]
		if len(files) == 0 {
			http.Error(w, "No files uploaded", http.StatusBadRequest)
			return
		}

		summaries := make([]batchSummary, 0, len(files))
		anyRejected := false
		for _, fh := range files {
			file, err := fh.Open()
			if err != nil {
				http.Error(w, "Failed to open file: "+fh.Filename, http.StatusBadRequest)
				return
			}
			data, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				http.Error(w, "Failed to read file: "+fh.Filename, http.StatusBadRequest)
				return
			}

			res, perr := engine.ProcessBatch(ctx, fh.Filename, uploadedBy, data)
			summary := summarize(res, fh.Filename)
			if perr != nil {
				anyRejected = true
				summary.Error = rejectionMessage(perr)
				logger.GlobalLogger.LogAudit(fmt.Sprintf("Batch %s rejected: %v", fh.Filename, perr))
			} else {
				logger.GlobalLogger.LogAudit(fmt.Sprintf(
					"Batch %s processed: %d rows, %d transactions, %d matched, %d unmatched, %d duplicates, %d errors",
					fh.Filename, res.Batch.RowsSeen, res.Batch.TransactionsProcessed,
					res.Batch.MatchedCount, res.Batch.UnmatchedCount,
					res.Batch.DuplicateCount, res.Batch.ErrorCount))
			}
			summaries = append(summaries, summary)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": !anyRejected,
			"batches": summaries,
		})
	}
}

func summarize(res *recon.BatchResult, filename string) batchSummary {
	s := batchSummary{
		BatchID:               res.Batch.ID,
		Filename:              filename,
		Checksum:              res.Batch.Checksum,
		RowsSeen:              res.Batch.RowsSeen,
		TransactionsProcessed: res.Batch.TransactionsProcessed,
		MatchedCount:          res.Batch.MatchedCount,
		PartialCount:          res.Batch.PartialCount,
		OverpaidCount:         res.Batch.OverpaidCount,
		UnmatchedCount:        res.Batch.UnmatchedCount,
		DuplicateCount:        res.Batch.DuplicateCount,
		ErrorCount:            res.Batch.ErrorCount,
	}
	for id, led := range res.Ledgers {
		s.Invoices = append(s.Invoices, invoiceSummary{
			InvoiceID:          id,
			AmountPaid:         led.AmountPaid.StringFixed(2),
			OutstandingBalance: led.OutstandingBalance.StringFixed(2),
			OverpaidAmount:     led.OverpaidAmount.StringFixed(2),
			Status:             string(led.Status),
		})
	}
	return s
}

// rejectionMessage keeps operator-facing errors actionable: an ambiguous
// schema names the role that could not be assigned, so a manual
// column-mapping override is possible.
func rejectionMessage(err error) string {
	var ambiguous *statement.SchemaAmbiguousError
	if errors.As(err, &ambiguous) {
		return fmt.Sprintf("could not confidently assign the %q column; please check the file layout or supply a mapping", ambiguous.Role)
	}
	var malformed *statement.MalformedInputError
	if errors.As(err, &malformed) {
		return malformed.Error()
	}
	return err.Error()
}
