package config

const (
	DefaultTimeZone = "Africa/Johannesburg"

	// DefaultRepairSchedule runs the full-ledger repair nightly, after the
	// banks' end-of-day files have landed.
	DefaultRepairSchedule = "0 2 * * *"

	// ReconServicePort is where the reconciliation service listens; the
	// gateway proxies /recon/ traffic to it.
	ReconServicePort = ":7143"
	GatewayPort      = ":8081"
	MaxUploadBytes   = 32 << 20
)
