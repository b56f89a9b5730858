package auditor

import "time"

type Config struct {
	RoundInterval time.Duration `arg:"env:ROUND_INTERVAL"`
	LedgerDB      string        `arg:"env:LEDGER_DB"`
	AlertWebhook  string        `arg:"env:ALERT_WEBHOOK"`
}
