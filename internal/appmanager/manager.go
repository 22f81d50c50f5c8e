package appmanager

import (
	"database/sql"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"TuitionLedger/api"
	"TuitionLedger/api/reconciliation"
	"TuitionLedger/internal/jobs"
	"TuitionLedger/internal/logger"
	"TuitionLedger/internal/recon"
	"TuitionLedger/internal/serviceiface"
	"TuitionLedger/internal/store"
)

var db *sql.DB
var pgxPool *pgxpool.Pool
var engine *recon.Engine

func SetDB(database *sql.DB) {
	db = database
}

func SetPgxPool(pool *pgxpool.Pool) {
	pgxPool = pool
}

// GetDB returns the database/sql connection used by read-only handlers.
func GetDB() *sql.DB {
	return db
}

// GetPgxPool returns the pgx pool connection.
func GetPgxPool() *pgxpool.Pool {
	return pgxPool
}

// Engine lazily builds the shared reconciliation engine. Without a pgx pool
// (local dev, tests) it falls back to the in-memory store.
func Engine() *recon.Engine {
	if engine == nil {
		if pgxPool != nil {
			engine = recon.NewEngine(store.NewPostgresStore(pgxPool))
		} else {
			engine = recon.NewEngine(recon.NewMemoryStore())
		}
	}
	return engine
}

var serviceConstructors = map[string]func(map[string]interface{}) serviceiface.Service{
	"logger": func(cfg map[string]interface{}) serviceiface.Service {
		return logger.NewLoggerService(cfg)
	},
	"recon": func(cfg map[string]interface{}) serviceiface.Service {
		return reconciliation.NewReconciliationService(cfg, db, Engine())
	},
	"cron": func(cfg map[string]interface{}) serviceiface.Service {
		return jobs.NewCronService(cfg, Engine())
	},
	"gateway": func(cfg map[string]interface{}) serviceiface.Service {
		return api.NewGatewayService(cfg)
	},
}

type AppManager struct {
	mu       sync.Mutex
	services []serviceiface.Service
}

func NewAppManager() *AppManager {
	return &AppManager{}
}

func (am *AppManager) RegisterService(svc serviceiface.Service) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.services = append(am.services, svc)
}

func (am *AppManager) GetServiceByName(name string) serviceiface.Service {
	am.mu.Lock()
	defer am.mu.Unlock()
	for _, svc := range am.services {
		if svc.Name() == name {
			return svc
		}
	}
	return nil
}

func (am *AppManager) StartAll() error {
	am.mu.Lock()
	defer am.mu.Unlock()
	for _, service := range am.services {
		fmt.Println("Starting service:", service.Name())
		if err := service.Start(); err != nil {
			return fmt.Errorf("failed to start service %s: %w", service.Name(), err)
		}
	}
	return nil
}

func (am *AppManager) StopAll() error {
	am.mu.Lock()
	defer am.mu.Unlock()
	for i := len(am.services) - 1; i >= 0; i-- {
		svc := am.services[i]
		if err := svc.Stop(); err != nil {
			return fmt.Errorf("failed to stop service %s: %w", svc.Name(), err)
		}
	}
	return nil
}

// ------------------- YAML CONFIG -------------------

type ServiceSequencer struct {
	Services []ServiceConfig `yaml:"services"`
}

type ServiceConfig struct {
	Name       string                 `yaml:"name"`
	StartOrder int                    `yaml:"start_order"`
	Config     map[string]interface{} `yaml:"config"`
}

func LoadServiceSequence(path string) ([]ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seq ServiceSequencer
	if err := yaml.Unmarshal(data, &seq); err != nil {
		return nil, err
	}
	sort.Slice(seq.Services, func(i, j int) bool {
		return seq.Services[i].StartOrder < seq.Services[j].StartOrder
	})
	return seq.Services, nil
}

func (am *AppManager) AutoRegisterServices(configs []ServiceConfig) {
	for _, svc := range configs {
		if constructor, ok := serviceConstructors[svc.Name]; ok {
			am.RegisterService(constructor(svc.Config))
		}
	}
	for _, svc := range am.services {
		if l, ok := svc.(*logger.LoggerService); ok {
			logger.SetGlobalLogger(l)
			break
		}
	}
}
