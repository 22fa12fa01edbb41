package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DaySummary is a small, query-friendly aggregate table used by dashboards.
//
// Grain: (company_id, voucher_type, voucher_date), where voucher_date is the
// company-local calendar date. total_amount nets out voided pairs because a
// reversal carries the original voucher's date.
//
// NOTE: This table is derived data and is rebuilt from vouchers by the event
// worker; it must never feed back into posting.
type DaySummary struct {
	CompanyId   string      `gorm:"primaryKey;size:64;index:idx_ds_company_date,priority:1" json:"company_id"`
	VoucherType VoucherType `gorm:"primaryKey;size:20" json:"voucher_type"`
	VoucherDate time.Time   `gorm:"primaryKey;index:idx_ds_company_date,priority:2" json:"voucher_date"`

	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	VoucherCount  int             `gorm:"not null;default:0" json:"voucher_count"`
	ReversalCount int             `gorm:"not null;default:0" json:"reversal_count"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
