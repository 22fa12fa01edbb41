package models

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// VoucherEntry is one ledger line of a posted voucher. Entries are written
// exactly once inside the posting transaction and never touched again.
type VoucherEntry struct {
	ID          int    `gorm:"primary_key" json:"id"`
	CompanyId   string `gorm:"size:64;index;not null;index:idx_ve_company_ledger,priority:1;index:idx_ve_company_stock,priority:1" json:"company_id"`
	VoucherId   int    `gorm:"index;not null" json:"voucher_id" binding:"required"`
	LedgerId    int    `gorm:"index;not null;index:idx_ve_company_ledger,priority:2" json:"ledger_id" binding:"required"`
	Description string `gorm:"size:255" json:"description"`
	// Exactly one of debit/credit is positive; the other stays zero.
	Debit  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"debit"`
	Credit decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"credit"`
	// Stock movement. Quantity is unsigned for trading vouchers (the voucher
	// type carries the direction) and signed for stock journals.
	StockItemId  int             `gorm:"index;index:idx_ve_company_stock,priority:2" json:"stock_item_id"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	Rate         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"rate"`
	GstRateId    int             `gorm:"index" json:"gst_rate_id"`
	CgstAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cgst_amount"`
	SgstAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sgst_amount"`
	IgstAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"igst_amount"`
	CessAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cess_amount"`
	CostCenterId int             `gorm:"index;default:0" json:"cost_center_id"`
	GodownId     int             `gorm:"index;default:0" json:"godown_id"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (e *VoucherEntry) GetId() int {
	return e.ID
}

// SignedAmount is the entry's contribution to a ledger balance read on the
// given normal side: +1 on the normal side, -1 otherwise.
func (e *VoucherEntry) SignedAmount(normal NormalBalance) decimal.Decimal {
	if normal == NormalBalanceDebit {
		return e.Debit.Sub(e.Credit)
	}
	return e.Credit.Sub(e.Debit)
}

func (e *VoucherEntry) BeforeUpdate(tx *gorm.DB) error {
	if !config.StrictVoucherImmutability() {
		return nil
	}
	return errors.New("immutable ledger: voucher_entries cannot be updated")
}

func (e *VoucherEntry) BeforeDelete(tx *gorm.DB) error {
	if !config.StrictVoucherImmutability() {
		return nil
	}
	return errors.New("immutable ledger: voucher_entries cannot be deleted")
}
