package workflow

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
)

// VoidVoucher reverses a posted voucher.
//
// Design:
// - Posted vouchers are never deleted and never edited in place.
// - Voiding inserts a counter-voucher (is_reversal=true, number "REV-" +
//   original number) with debit/credit swapped on every line, re-applies
//   balances and stock with flipped sign, and marks the original as
//   reversed_by_voucher_id=<reversal>.
// - Voiding an already voided voucher returns the existing reversal.
// - An empty reason falls back to ReversalReasonUserVoid.
func VoidVoucher(ctx context.Context, logger *logrus.Logger, companyId string, voucherId int, reason string) (*models.Voucher, error) {
	db := config.GetDB()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = ReversalReasonUserVoid
	}

	validationErrors := &models.ValidationErrors{}

	var original models.Voucher
	if err := db.WithContext(ctx).
		Where("company_id = ? AND id = ?", companyId, voucherId).
		Preload("Entries").
		First(&original).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("voucher", voucherId)
		}
		return nil, err
	}
	if original.IsReversal {
		return nil, models.NewConflictError("voucher", "%s is a reversal and cannot be voided", original.VoucherNumber)
	}
	if original.Voided() {
		return getReversalVoucher(ctx, db, companyId, *original.ReversedByVoucherId)
	}
	// The reversal posts on the original date so the pair cancels in the same
	// period; a closed period therefore blocks the void as well.
	if err := models.ValidatePostingLock(ctx, original.VoucherDate, companyId); err != nil {
		validationErrors.Add("voucher_date", "%s", err.Error())
	}
	if validationErrors.HasErrors() {
		return nil, validationErrors
	}

	var reversal *models.Voucher
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := AcquireCompanyPostingLock(tx, companyId); err != nil {
			config.LogError(logger, "VoucherReversal.go", "VoidVoucher", "AcquireCompanyPostingLock", companyId, err)
			return err
		}
		defer ReleaseCompanyPostingLock(tx, companyId)

		// Re-read under the lock; a concurrent void may have won the race.
		var current models.Voucher
		if err := tx.WithContext(ctx).
			Where("company_id = ? AND id = ?", companyId, voucherId).
			Preload("Entries").
			First(&current).Error; err != nil {
			return err
		}
		if current.Voided() {
			existing, err := getReversalVoucher(ctx, tx, companyId, *current.ReversedByVoucherId)
			if err != nil {
				return err
			}
			reversal = existing
			return nil
		}

		rev, err := reverseVoucherTx(ctx, tx, logger, &current, reason)
		if err != nil {
			return err
		}
		reversal = rev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reversal, nil
}

func getReversalVoucher(ctx context.Context, db *gorm.DB, companyId string, reversalId int) (*models.Voucher, error) {
	var result models.Voucher
	if err := db.WithContext(ctx).
		Where("company_id = ? AND id = ?", companyId, reversalId).
		Preload("Entries").
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

// reverseVoucherTx writes the counter-voucher and re-applies every side
// effect with flipped sign. Caller holds the posting lock.
func reverseVoucherTx(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, original *models.Voucher, reason string) (*models.Voucher, error) {
	companyId := original.CompanyId
	reasonCopy := reason
	now := time.Now().UTC()

	seq, err := utils.GetSequence[models.Voucher](ctx, companyId)
	if err != nil {
		config.LogError(logger, "VoucherReversal.go", "VoidVoucher", "GetSequence", companyId, err)
		return nil, err
	}

	reversedEntries := make([]models.VoucherEntry, 0, len(original.Entries))
	for _, entry := range original.Entries {
		reversedEntries = append(reversedEntries, models.VoucherEntry{
			CompanyId:    entry.CompanyId,
			LedgerId:     entry.LedgerId,
			Description:  entry.Description,
			Debit:        entry.Credit,
			Credit:       entry.Debit,
			StockItemId:  entry.StockItemId,
			Quantity:     entry.Quantity,
			Rate:         entry.Rate,
			GstRateId:    entry.GstRateId,
			CgstAmount:   entry.CgstAmount,
			SgstAmount:   entry.SgstAmount,
			IgstAmount:   entry.IgstAmount,
			CessAmount:   entry.CessAmount,
			CostCenterId: entry.CostCenterId,
			GodownId:     entry.GodownId,
		})
	}

	reversal := models.Voucher{
		CompanyId:         companyId,
		VoucherType:       original.VoucherType,
		VoucherNumber:     "REV-" + original.VoucherNumber,
		SequenceNo:        seq,
		VoucherDate:       original.VoucherDate,
		PartyLedgerId:     original.PartyLedgerId,
		PlaceOfSupply:     original.PlaceOfSupply,
		ReferenceNumber:   original.ReferenceNumber,
		Narration:         "Reversal: " + reasonCopy,
		TotalAmount:       original.TotalAmount,
		// Entries swap sides but the signed round-off does not: it is defined
		// as total minus gross, and both figures carry over unchanged.
		RoundOff:          original.RoundOff,
		TdsAmount:         original.TdsAmount,
		TcsAmount:         original.TcsAmount,
		IsReversal:        true,
		ReversesVoucherId: &original.ID,
		ReversalReason:    &reasonCopy,
		Entries:           reversedEntries,
	}
	if err := tx.WithContext(ctx).Create(&reversal).Error; err != nil {
		// Losing the number race means another void of the same voucher got
		// there first; surface its reversal instead.
		if duplicateKeyOn(err, "idx_vch_number") {
			var current models.Voucher
			if ferr := tx.WithContext(ctx).
				Where("company_id = ? AND id = ?", companyId, original.ID).
				First(&current).Error; ferr == nil && current.Voided() {
				return getReversalVoucher(ctx, tx, companyId, *current.ReversedByVoucherId)
			}
		}
		config.LogError(logger, "VoucherReversal.go", "VoidVoucher", "Create Reversal", reversal.VoucherNumber, err)
		return nil, err
	}

	// Counter deltas come straight from the swapped entries.
	ledgerIds := make([]int, 0, len(reversal.Entries))
	for _, entry := range reversal.Entries {
		if !slices.Contains(ledgerIds, entry.LedgerId) {
			ledgerIds = append(ledgerIds, entry.LedgerId)
		}
	}
	ledgers, err := loadByIds(ctx, tx, companyId, ledgerIds, func(l *models.Ledger) int { return l.ID })
	if err != nil {
		return nil, err
	}
	deltas := map[int]decimal.Decimal{}
	for i := range reversal.Entries {
		entry := &reversal.Entries[i]
		ledger, ok := ledgers[entry.LedgerId]
		if !ok {
			return nil, models.NewNotFoundError("ledger", entry.LedgerId)
		}
		deltas[entry.LedgerId] = deltas[entry.LedgerId].Add(entry.SignedAmount(ledger.NormalBalance))
	}
	for _, id := range ledgerIds {
		if err := ApplyLedgerDelta(tx, companyId, id, deltas[id]); err != nil {
			config.LogError(logger, "VoucherReversal.go", "VoidVoucher", "ApplyLedgerDelta", id, err)
			return nil, err
		}
	}

	// Stock direction derives from the voucher type and quantity, not from
	// the debit/credit side, so the unpost uses the original entries.
	if err := AdjustStockForEntries(ctx, tx, companyId, original.VoucherType, original.Entries, stockDirectionUnpost); err != nil {
		config.LogError(logger, "VoucherReversal.go", "VoidVoucher", "AdjustStockForEntries", original.VoucherNumber, err)
		return nil, err
	}

	// Mark original as reversed (metadata-only update).
	if err := tx.WithContext(ctx).Model(&models.Voucher{}).
		Where("id = ?", original.ID).
		Updates(map[string]interface{}{
			"reversed_by_voucher_id": reversal.ID,
			"reversal_reason":        &reasonCopy,
			"reversed_at":            &now,
		}).Error; err != nil {
		config.LogError(logger, "VoucherReversal.go", "VoidVoucher", "Mark Original Reversed", original.VoucherNumber, err)
		return nil, err
	}

	updated := *original
	updated.ReversedByVoucherId = &reversal.ID
	updated.ReversalReason = &reasonCopy
	updated.ReversedAt = &now

	if err := models.PublishOutboxEvent(ctx, tx, companyId, reversal.VoucherDate, reversal.ID,
		models.EventReferenceTypeVoucher, reversal, nil, models.OutboxMessageActionCreate); err != nil {
		config.LogError(logger, "VoucherReversal.go", "VoidVoucher", "PublishOutboxEvent Reversal", reversal.VoucherNumber, err)
		return nil, err
	}
	if err := models.PublishOutboxEvent(ctx, tx, companyId, updated.VoucherDate, updated.ID,
		models.EventReferenceTypeVoucher, updated, original, models.OutboxMessageActionUpdate); err != nil {
		config.LogError(logger, "VoucherReversal.go", "VoidVoucher", "PublishOutboxEvent Original", updated.VoucherNumber, err)
		return nil, err
	}

	return &reversal, nil
}
