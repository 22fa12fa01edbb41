package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Voucher is a posted accounting document. One voucher owns a balanced set
// of voucher entries; together they form the append-only ledger.
//
// Ledger immutability guardrails:
// - voucher_entries are append-only (no updates/deletes).
// - vouchers must never be deleted; limited updates are allowed only for
//   reversal linkage fields. Corrections go through VoidVoucher, which posts
//   a sign-reversed counter-voucher and links the pair.
type Voucher struct {
	ID            int         `gorm:"primary_key" json:"id"`
	CompanyId     string      `gorm:"size:64;not null;index;uniqueIndex:idx_vch_number,priority:1;index:idx_vch_company_date,priority:1" json:"company_id"`
	VoucherType   VoucherType `gorm:"size:30;not null;index;uniqueIndex:idx_vch_number,priority:2" json:"voucher_type"`
	VoucherNumber string      `gorm:"size:191;not null;uniqueIndex:idx_vch_number,priority:3" json:"voucher_number"`
	SequenceNo    int64       `gorm:"not null;default:0" json:"sequence_no"`
	VoucherDate   time.Time   `gorm:"index;not null;index:idx_vch_company_date,priority:2" json:"voucher_date"`
	PartyLedgerId int         `gorm:"index;default:0" json:"party_ledger_id"`
	// PlaceOfSupply is the two-digit destination state code; compared against
	// the company's state_code to decide cgst/sgst vs igst.
	PlaceOfSupply   string          `gorm:"size:2" json:"place_of_supply"`
	ReferenceNumber string          `gorm:"size:255" json:"reference_number"`
	Narration       string          `gorm:"type:text" json:"narration"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	RoundOff        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"round_off"`
	TdsAmount       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tds_amount"`
	TcsAmount       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tcs_amount"`
	// Reversal linkage. For a given voucher there is at most one reversal;
	// a voided voucher has reversed_by_voucher_id set and is excluded from
	// balance recomputation together with its reversal.
	IsReversal          bool       `gorm:"not null;default:false;index" json:"is_reversal"`
	ReversesVoucherId   *int       `gorm:"index" json:"reverses_voucher_id"`
	ReversedByVoucherId *int       `gorm:"index" json:"reversed_by_voucher_id"`
	ReversalReason      *string    `gorm:"type:text" json:"reversal_reason"`
	ReversedAt          *time.Time `gorm:"index" json:"reversed_at"`
	// Mirror back-reference. Set only on vouchers created by accepting a
	// counterparty notification; the pair is unique so repeated accepts can
	// never post twice.
	SourceCompanyId *string              `gorm:"size:64;uniqueIndex:idx_vch_source,priority:1" json:"source_company_id"`
	SourceVoucherId *int                 `gorm:"uniqueIndex:idx_vch_source,priority:2" json:"source_voucher_id"`
	Entries         []VoucherEntry       `gorm:"foreignKey:VoucherId" json:"entries"`
	Attachments     []*VoucherAttachment `gorm:"foreignKey:VoucherId" json:"attachments"`
	CreatedAt       time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewVoucher is the posting draft received from the API. The engine owns
// numbering, tax columns and the rounding line; callers only describe the
// document.
type NewVoucher struct {
	VoucherType     VoucherType `json:"voucher_type" binding:"required"`
	VoucherDate     time.Time   `json:"voucher_date" binding:"required"`
	PartyLedgerId   int         `json:"party_ledger_id"`
	PlaceOfSupply   string      `json:"place_of_supply"`
	ReferenceNumber string      `json:"reference_number"`
	Narration       string      `json:"narration"`
	// TotalAmount is the externally agreed total. When non-zero the engine
	// balances to it with a rounding line per the configured policy.
	TotalAmount decimal.Decimal         `json:"total_amount"`
	TdsAmount   decimal.Decimal         `json:"tds_amount"`
	TcsAmount   decimal.Decimal         `json:"tcs_amount"`
	Entries     []NewVoucherEntry       `json:"entries"`
	Attachments []*NewVoucherAttachment `json:"attachments"`
}

type NewVoucherEntry struct {
	LedgerId    int             `json:"ledger_id" binding:"required"`
	Description string          `json:"description"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	// Stock movement fields; quantity carries its own sign on stock journals.
	StockItemId int             `json:"stock_item_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
	GstRateId   int             `json:"gst_rate_id"`
	// Caller-supplied tax splits are optional; when present they must agree
	// with the recomputed ones.
	CgstAmount   decimal.Decimal `json:"cgst_amount"`
	SgstAmount   decimal.Decimal `json:"sgst_amount"`
	IgstAmount   decimal.Decimal `json:"igst_amount"`
	CessAmount   decimal.Decimal `json:"cess_amount"`
	CostCenterId int             `json:"cost_center_id"`
	GodownId     int             `json:"godown_id"`
}

func (v Voucher) CheckTransactionLock(ctx context.Context) error {
	return validatePostingLock(ctx, v.VoucherDate, v.CompanyId)
}

func (v *Voucher) GetId() int {
	return v.ID
}

// Voided reports whether this voucher has been reversed.
func (v *Voucher) Voided() bool {
	return v.ReversedByVoucherId != nil
}

func (v *Voucher) BeforeDelete(tx *gorm.DB) error {
	if !config.StrictVoucherImmutability() {
		return nil
	}
	return errors.New("immutable ledger: vouchers cannot be deleted")
}

func (v *Voucher) BeforeUpdate(tx *gorm.DB) error {
	if !config.StrictVoucherImmutability() {
		return nil
	}
	// Allow only reversal linkage fields to be updated.
	allowed := map[string]bool{
		"IsReversal":          true,
		"ReversesVoucherId":   true,
		"ReversedByVoucherId": true,
		"ReversalReason":      true,
		"ReversedAt":          true,
		"UpdatedAt":           true,
	}
	if tx == nil || tx.Statement == nil || tx.Statement.Schema == nil {
		return nil
	}
	for _, f := range tx.Statement.Schema.Fields {
		if tx.Statement.Changed(f.Name) && !allowed[f.Name] {
			return errors.New("immutable ledger: only reversal linkage fields may be updated on vouchers")
		}
	}
	return nil
}

func GetVoucher(ctx context.Context, id int) (*Voucher, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	result, err := utils.FetchModel[Voucher](ctx, companyId, id, "Entries", "Attachments")
	if err != nil {
		return nil, NewNotFoundError("voucher", id)
	}
	return result, nil
}

// GetMirroredVoucher looks up the voucher a notification accept already
// created in the recipient's books, if any.
func GetMirroredVoucher(ctx context.Context, tx *gorm.DB, companyId string, sourceCompanyId string, sourceVoucherId int) (*Voucher, error) {
	var result Voucher
	err := tx.WithContext(ctx).
		Where("company_id = ?", companyId).
		Where("source_company_id = ?", sourceCompanyId).
		Where("source_voucher_id = ?", sourceVoucherId).
		Preload("Entries").
		First(&result).Error
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ActiveVoucherEntries returns the posted entries of all non-voided,
// non-reversal vouchers of one ledger ordered by document date then insert
// order. This is the replay order the balance recomputation relies on.
func ActiveVoucherEntries(ctx context.Context, tx *gorm.DB, companyId string, ledgerId int) ([]VoucherEntry, error) {
	var entries []VoucherEntry
	err := tx.WithContext(ctx).
		Joins("JOIN vouchers ON vouchers.id = voucher_entries.voucher_id").
		Where("vouchers.company_id = ?", companyId).
		Where("voucher_entries.ledger_id = ?", ledgerId).
		Where("vouchers.is_reversal = ?", false).
		Where("vouchers.reversed_by_voucher_id IS NULL").
		Order("vouchers.voucher_date, voucher_entries.created_at, voucher_entries.id").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
