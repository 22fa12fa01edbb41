package workflow

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
)

// Stock adjustment direction. Posting applies a voucher's movements,
// unposting is the void path re-applying them with flipped sign.
const (
	stockDirectionPost   = 1
	stockDirectionUnpost = -1
)

// signedQuantity resolves the inventory direction of one entry. Trading
// vouchers carry unsigned quantities and take their direction from the
// voucher type; stock journals and physical stock entries carry the sign on
// the quantity itself.
func signedQuantity(voucherType models.VoucherType, quantity decimal.Decimal) decimal.Decimal {
	if voucherType.StockSign() < 0 {
		return quantity.Neg()
	}
	return quantity
}

// AdjustStockForEntries applies the weighted-average cost update for every
// stock line of a voucher:
//
//	new_value = old_value + signed_qty*rate
//	new_avg_rate = new_value / new_balance (0 when the balance hits zero)
//
// Must run inside the posting transaction while the company posting lock is
// held; the read-modify-write below relies on that serialization.
func AdjustStockForEntries(ctx context.Context, tx *gorm.DB, companyId string, voucherType models.VoucherType, entries []models.VoucherEntry, direction int) error {
	validationErrors := &models.ValidationErrors{}
	for i := range entries {
		entry := &entries[i]
		if entry.StockItemId == 0 || entry.Quantity.IsZero() {
			continue
		}
		qty := signedQuantity(voucherType, entry.Quantity)
		if direction == stockDirectionUnpost {
			qty = qty.Neg()
		}

		var item models.StockItem
		if err := tx.WithContext(ctx).
			Where("company_id = ? AND id = ?", companyId, entry.StockItemId).
			First(&item).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("stock_item", entry.StockItemId)
			}
			return err
		}

		newBalance := item.CurrentBalance.Add(qty)
		if newBalance.IsNegative() && !config.AllowNegativeStock() {
			validationErrors.Add("entries", "stock item %q would go negative (%s on hand, movement %s)",
				item.Name, item.CurrentBalance, qty)
			continue
		}
		newValue := item.CurrentValue.Add(qty.Mul(entry.Rate))
		newAvgRate := decimal.Zero
		if !newBalance.IsZero() {
			newAvgRate = newValue.DivRound(newBalance, 4)
		}

		if err := tx.WithContext(ctx).Model(&models.StockItem{}).
			Where("company_id = ? AND id = ?", companyId, item.ID).
			Updates(map[string]interface{}{
				"current_balance": newBalance,
				"current_value":   newValue,
				"avg_rate":        newAvgRate,
			}).Error; err != nil {
			return err
		}
	}
	return validationErrors.OrNil()
}
