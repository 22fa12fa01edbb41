package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
)

// ApplyLedgerDelta moves a ledger's running balance by a signed amount with a
// single atomic UPDATE. Concurrent postings against the same ledger must not
// lose updates, so this never reads the balance first.
func ApplyLedgerDelta(tx *gorm.DB, companyId string, ledgerId int, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	result := tx.Model(&models.Ledger{}).
		Where("company_id = ? AND id = ?", companyId, ledgerId).
		Updates(map[string]interface{}{
			"current_balance": gorm.Expr("current_balance + ?", delta),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.NewNotFoundError("ledger", ledgerId)
	}
	return nil
}

// RecomputeLedgerBalance replays one ledger from its opening balance through
// every active entry in (voucher_date, created_at) order. It never writes;
// the audit uses it as the oracle against the incrementally maintained
// current_balance.
func RecomputeLedgerBalance(ctx context.Context, tx *gorm.DB, companyId string, ledgerId int) (decimal.Decimal, error) {
	var ledger models.Ledger
	if err := tx.WithContext(ctx).
		Where("company_id = ? AND id = ?", companyId, ledgerId).
		First(&ledger).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, models.NewNotFoundError("ledger", ledgerId)
		}
		return decimal.Zero, err
	}
	entries, err := models.ActiveVoucherEntries(ctx, tx, companyId, ledgerId)
	if err != nil {
		return decimal.Zero, err
	}
	balance := ledger.OpeningBalance
	for i := range entries {
		balance = balance.Add(entries[i].SignedAmount(ledger.NormalBalance))
	}
	return balance, nil
}

// AuditLedgerBalances compares every ledger's current_balance against a full
// replay. Drift writes reconciliation_reports rows and comes back as a
// conflict; the audit never corrects balances. Intended to run on a schedule
// (nightly) or via the admin trigger.
func AuditLedgerBalances(ctx context.Context, db *gorm.DB, logger *logrus.Logger, companyId string) (correlationId string, drifted []models.ReconciliationReport, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cid, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok || cid == "" {
		cid = uuid.NewString()
	}
	now := time.Now().UTC()

	var ledgers []models.Ledger
	if err := db.WithContext(ctx).
		Where("company_id = ?", companyId).
		Order("id").
		Find(&ledgers).Error; err != nil {
		return cid, nil, err
	}

	for i := range ledgers {
		ledger := &ledgers[i]
		replayed, err := RecomputeLedgerBalance(ctx, db, companyId, ledger.ID)
		if err != nil {
			return cid, drifted, err
		}
		if replayed.Equal(ledger.CurrentBalance) {
			continue
		}
		report := models.ReconciliationReport{
			CompanyId:     companyId,
			CheckType:     "LEDGER_BALANCE",
			EntityType:    "Ledger",
			EntityId:      ledger.ID,
			Expected:      replayed.String(),
			Actual:        ledger.CurrentBalance.String(),
			Details:       fmt.Sprintf("current_balance=%s != replayed balance=%s for ledger %q", ledger.CurrentBalance, replayed, ledger.Name),
			CorrelationId: cid,
			CreatedAt:     now,
		}
		if err := db.WithContext(ctx).Create(&report).Error; err != nil {
			return cid, drifted, err
		}
		drifted = append(drifted, report)
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":           "LedgerBalanceAudit",
			"company_id":      companyId,
			"correlation_id":  cid,
			"ledgers_checked": len(ledgers),
			"drifted":         len(drifted),
		}).Info("ledger balance audit completed")
	}
	if len(drifted) > 0 {
		return cid, drifted, models.NewConflictError("ledger_balance", "%d ledger(s) drifted from replay, correlation_id=%s", len(drifted), cid)
	}
	return cid, drifted, nil
}

// RebuildLedgerBalances overwrites every current_balance with the replayed
// value. This is the explicit operator remediation after an audit finding,
// run from the rebuild command, never from the audit itself. It takes the
// posting lock so no voucher lands between replay and write.
func RebuildLedgerBalances(ctx context.Context, db *gorm.DB, logger *logrus.Logger, companyId string) (int, error) {
	rebuilt := 0
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := AcquireCompanyPostingLock(tx, companyId); err != nil {
			return err
		}
		defer ReleaseCompanyPostingLock(tx, companyId)

		var ledgers []models.Ledger
		if err := tx.WithContext(ctx).
			Where("company_id = ?", companyId).
			Order("id").
			Find(&ledgers).Error; err != nil {
			return err
		}
		for i := range ledgers {
			ledger := &ledgers[i]
			replayed, err := RecomputeLedgerBalance(ctx, tx, companyId, ledger.ID)
			if err != nil {
				return err
			}
			if replayed.Equal(ledger.CurrentBalance) {
				continue
			}
			if err := tx.Model(&models.Ledger{}).
				Where("company_id = ? AND id = ?", companyId, ledger.ID).
				Updates(map[string]interface{}{"current_balance": replayed}).Error; err != nil {
				return err
			}
			rebuilt++
		}
		return nil
	})
	if err != nil {
		return rebuilt, err
	}
	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":      "LedgerBalanceRebuild",
			"company_id": companyId,
			"rebuilt":    rebuilt,
		}).Info("ledger balances rebuilt from replay")
	}
	return rebuilt, nil
}
