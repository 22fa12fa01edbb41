package models

import "time"

// Drift detection output (nightly/admin-triggered). Findings are recorded
// and surfaced; the audit never writes corrected balances back.
type ReconciliationReport struct {
	ID            int       `gorm:"primary_key" json:"id"`
	CompanyId     string    `gorm:"index;not null" json:"company_id"`
	CheckType     string    `gorm:"size:50;index;not null" json:"check_type"`  // e.g. LEDGER_BALANCE, STOCK_VALUE
	EntityType    string    `gorm:"size:50;index;not null" json:"entity_type"` // e.g. Ledger, StockItem
	EntityId      int       `gorm:"index;not null" json:"entity_id"`
	Expected      string    `gorm:"size:50" json:"expected"`
	Actual        string    `gorm:"size:50" json:"actual"`
	Details       string    `gorm:"type:text" json:"details"` // human-readable mismatch detail
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
