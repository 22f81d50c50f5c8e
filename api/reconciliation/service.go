package reconciliation

import (
	"database/sql"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"TuitionLedger/internal/config"
	"TuitionLedger/internal/recon"
	"TuitionLedger/internal/serviceiface"
)

type ReconciliationService struct {
	config map[string]interface{}
	db     *sql.DB
	engine *recon.Engine
}

func NewReconciliationService(cfg map[string]interface{}, db *sql.DB, engine *recon.Engine) serviceiface.Service {
	return &ReconciliationService{config: cfg, db: db, engine: engine}
}

func (s *ReconciliationService) Name() string {
	return "recon"
}

func (s *ReconciliationService) Start() error {
	go StartReconciliationService(s.db, s.engine)
	return nil
}

func (s *ReconciliationService) Stop() error {
	return nil
}

func StartReconciliationService(db *sql.DB, engine *recon.Engine) {
	router := mux.NewRouter()

	router.HandleFunc("/recon/statements/upload", UploadBankStatement(engine)).Methods("POST")
	router.HandleFunc("/recon/invoices/recompute", RecomputeInvoices(engine)).Methods("POST")
	router.HandleFunc("/recon/batches", GetUploadBatches(db)).Methods("GET")
	router.HandleFunc("/recon/transactions/unmatched", GetUnmatchedTransactions(db)).Methods("GET")
	router.HandleFunc("/recon/hello", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Hello from Reconciliation Service"))
	})

	log.Println("Reconciliation Service started on", config.ReconServicePort)
	if err := http.ListenAndServe(config.ReconServicePort, router); err != nil {
		log.Fatalf("Reconciliation Service failed: %v", err)
	}
}
