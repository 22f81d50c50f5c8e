package reconciliation

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/lib/pq"

	"TuitionLedger/api/utils"
)

// Handler: GetUploadBatches
// Returns the write-once audit records, newest first. Supports ?limit= and
// ?offset= for paging.
func GetUploadBatches(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := utils.ExtractPagination(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": err.Error()})
			return
		}
		total, err := utils.CountTotal(db, `SELECT COUNT(*) FROM upload_batches`)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": err.Error()})
			return
		}
		params.SetPaginationStats(total)

		rows, err := db.Query(`
			SELECT batch_id, filename, COALESCE(uploaded_by,''),
			       COALESCE(checksum,''), rows_seen, transactions_processed,
			       matched_count, partial_count, overpaid_count,
			       unmatched_count, duplicate_count, error_count, created_at
			FROM upload_batches
			ORDER BY created_at DESC
			LIMIT $1 OFFSET $2`, params.Limit, params.Offset)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": err.Error()})
			return
		}
		defer rows.Close()

		type Item struct {
			BatchID               string    `json:"batch_id"`
			Filename              string    `json:"filename"`
			UploadedBy            string    `json:"uploaded_by"`
			Checksum              string    `json:"checksum"`
			RowsSeen              int       `json:"rows_seen"`
			TransactionsProcessed int       `json:"transactions_processed"`
			MatchedCount          int       `json:"matched_count"`
			PartialCount          int       `json:"partial_count"`
			OverpaidCount         int       `json:"overpaid_count"`
			UnmatchedCount        int       `json:"unmatched_count"`
			DuplicateCount        int       `json:"duplicate_count"`
			ErrorCount            int       `json:"error_count"`
			CreatedAt             time.Time `json:"created_at"`
		}

		results := make([]Item, 0)
		for rows.Next() {
			var it Item
			if err := rows.Scan(
				&it.BatchID, &it.Filename, &it.UploadedBy, &it.Checksum,
				&it.RowsSeen, &it.TransactionsProcessed, &it.MatchedCount,
				&it.PartialCount, &it.OverpaidCount, &it.UnmatchedCount,
				&it.DuplicateCount, &it.ErrorCount, &it.CreatedAt,
			); err != nil {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": err.Error()})
				return
			}
			results = append(results, it)
		}
		if rows.Err() != nil {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": rows.Err().Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": results, "pagination": params})
	}
}

// Handler: GetUnmatchedTransactions
// Lists transactions needing operator follow-up. Defaults to Unmatched and
// Failed; ?status= may be repeated to pick other statuses.
func GetUnmatchedTransactions(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := r.URL.Query()["status"]
		if len(statuses) == 0 {
			statuses = []string{"Unmatched", "Failed"}
		}

		rows, err := db.Query(`
			SELECT transaction_id, batch_id, COALESCE(reference_number,''),
			       amount, payment_date, COALESCE(description,''), status, created_at
			FROM payment_transactions
			WHERE status = ANY($1)
			ORDER BY payment_date DESC, created_at DESC`, pq.Array(statuses))
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": err.Error()})
			return
		}
		defer rows.Close()

		transactions := []map[string]interface{}{}
		for rows.Next() {
			var (
				txnID, batchID, reference, description, status string
				amount                                         string
				paymentDate, createdAt                         time.Time
			)
			if err := rows.Scan(&txnID, &batchID, &reference, &amount,
				&paymentDate, &description, &status, &createdAt); err != nil {
				continue
			}
			transactions = append(transactions, map[string]interface{}{
				"transaction_id": txnID,
				"batch_id":       batchID,
				"reference":      reference,
				"amount":         amount,
				"payment_date":   paymentDate.Format("2006-01-02"),
				"description":    description,
				"status":         status,
				"created_at":     createdAt,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": transactions})
	}
}
