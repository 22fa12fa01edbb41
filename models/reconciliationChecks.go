package models

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
)

// RunReconciliationChecks writes mismatch rows to reconciliation_reports.
// This is intended to be run on a schedule (nightly) or via an admin trigger.
// It only reports; nothing is corrected here.
func RunReconciliationChecks(ctx context.Context, companyId string) (correlationId string, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	db := config.GetDB()
	if db == nil {
		return "", fmt.Errorf("db is nil")
	}
	logger := config.GetLogger()

	cid, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok || cid == "" {
		cid = uuid.NewString()
	}
	now := time.Now().UTC()

	// 1) Voucher entry sets must balance, and the stored total must equal the
	// balanced sum less any negative round-off (a rounded-down total sits
	// below the gross its entries carry).
	type voucherMismatch struct {
		VoucherId   int
		Expected    string
		Actual      string
		TotalStored string
		TotalPosted string
	}
	var unbalanced []voucherMismatch
	if err := db.WithContext(ctx).Raw(`
		SELECT
			v.id AS voucher_id,
			CAST(ROUND(SUM(e.debit), 4) AS CHAR) AS expected,
			CAST(ROUND(SUM(e.credit), 4) AS CHAR) AS actual,
			CAST(ROUND(v.total_amount, 4) AS CHAR) AS total_stored,
			CAST(ROUND(GREATEST(SUM(e.debit), SUM(e.credit)) + LEAST(v.round_off, 0), 4) AS CHAR) AS total_posted
		FROM vouchers v
		JOIN voucher_entries e ON e.voucher_id = v.id
		WHERE v.company_id = ?
		GROUP BY v.id, v.round_off
		HAVING ROUND(SUM(e.debit), 4) <> ROUND(SUM(e.credit), 4)
		    OR ROUND(v.total_amount, 4) <> ROUND(GREATEST(SUM(e.debit), SUM(e.credit)) + LEAST(v.round_off, 0), 4)
	`, companyId).Scan(&unbalanced).Error; err != nil {
		return cid, err
	}
	for _, m := range unbalanced {
		detail := "sum(debit) != sum(credit)"
		if m.Expected == m.Actual {
			detail = fmt.Sprintf("total_amount=%s != posted total=%s", m.TotalStored, m.TotalPosted)
		}
		_ = db.WithContext(ctx).Create(&ReconciliationReport{
			CompanyId:     companyId,
			CheckType:     "VOUCHER_BALANCE",
			EntityType:    "Voucher",
			EntityId:      m.VoucherId,
			Expected:      m.Expected,
			Actual:        m.Actual,
			Details:       detail,
			CorrelationId: cid,
			CreatedAt:     now,
		}).Error
	}

	// 2) Stock on hand vs replay of active voucher entries. Direction derives
	// from the voucher type; stock journals carry the sign on the quantity.
	type stockMismatch struct {
		StockItemId int
		Expected    string
		Actual      string
	}
	var stockQty []stockMismatch
	if err := db.WithContext(ctx).Raw(`
		SELECT
			s.id AS stock_item_id,
			CAST(ROUND(COALESCE(SUM(
				CASE WHEN v.voucher_type IN ('Sales', 'DebitNote') THEN -e.quantity ELSE e.quantity END
			), 0), 4) AS CHAR) AS expected,
			CAST(ROUND(s.current_balance, 4) AS CHAR) AS actual
		FROM stock_items s
		LEFT JOIN voucher_entries e
		  ON e.stock_item_id = s.id AND e.company_id = s.company_id
		LEFT JOIN vouchers v
		  ON v.id = e.voucher_id AND v.is_reversal = 0 AND v.reversed_by_voucher_id IS NULL
		WHERE s.company_id = ?
		GROUP BY s.id
		HAVING ROUND(s.current_balance, 4) <> ROUND(COALESCE(SUM(
			CASE WHEN v.voucher_type IN ('Sales', 'DebitNote') THEN -e.quantity ELSE e.quantity END
		), 0), 4)
	`, companyId).Scan(&stockQty).Error; err != nil {
		return cid, err
	}
	for _, m := range stockQty {
		_ = db.WithContext(ctx).Create(&ReconciliationReport{
			CompanyId:     companyId,
			CheckType:     "STOCK_BALANCE",
			EntityType:    "StockItem",
			EntityId:      m.StockItemId,
			Expected:      m.Expected,
			Actual:        m.Actual,
			Details:       fmt.Sprintf("current_balance=%s != replayed quantity=%s", m.Actual, m.Expected),
			CorrelationId: cid,
			CreatedAt:     now,
		}).Error
	}

	// 3) Stock value vs replay of signed quantity * rate.
	var stockValue []stockMismatch
	if err := db.WithContext(ctx).Raw(`
		SELECT
			s.id AS stock_item_id,
			CAST(ROUND(COALESCE(SUM(
				(CASE WHEN v.voucher_type IN ('Sales', 'DebitNote') THEN -e.quantity ELSE e.quantity END) * e.rate
			), 0), 4) AS CHAR) AS expected,
			CAST(ROUND(s.current_value, 4) AS CHAR) AS actual
		FROM stock_items s
		LEFT JOIN voucher_entries e
		  ON e.stock_item_id = s.id AND e.company_id = s.company_id
		LEFT JOIN vouchers v
		  ON v.id = e.voucher_id AND v.is_reversal = 0 AND v.reversed_by_voucher_id IS NULL
		WHERE s.company_id = ?
		GROUP BY s.id
		HAVING ROUND(s.current_value, 4) <> ROUND(COALESCE(SUM(
			(CASE WHEN v.voucher_type IN ('Sales', 'DebitNote') THEN -e.quantity ELSE e.quantity END) * e.rate
		), 0), 4)
	`, companyId).Scan(&stockValue).Error; err != nil {
		return cid, err
	}
	for _, m := range stockValue {
		_ = db.WithContext(ctx).Create(&ReconciliationReport{
			CompanyId:     companyId,
			CheckType:     "STOCK_VALUE",
			EntityType:    "StockItem",
			EntityId:      m.StockItemId,
			Expected:      m.Expected,
			Actual:        m.Actual,
			Details:       fmt.Sprintf("current_value=%s != replayed value=%s", m.Actual, m.Expected),
			CorrelationId: cid,
			CreatedAt:     now,
		}).Error
	}

	// 4) Outbox rows that never finished processing. An hour is far beyond the
	// dispatcher's retry ceiling, so anything older is stuck, not in flight.
	type stuckRow struct {
		ID            int
		ReferenceType string
	}
	var stuck []stuckRow
	if err := db.WithContext(ctx).Raw(`
		SELECT id, reference_type
		FROM outbox_message_records
		WHERE company_id = ? AND is_processed = 0 AND created_at < ?
	`, companyId, now.Add(-time.Hour)).Scan(&stuck).Error; err != nil {
		return cid, err
	}
	for _, m := range stuck {
		_ = db.WithContext(ctx).Create(&ReconciliationReport{
			CompanyId:     companyId,
			CheckType:     "OUTBOX_STUCK",
			EntityType:    "OutboxMessageRecord",
			EntityId:      m.ID,
			Details:       fmt.Sprintf("%s event unprocessed for more than an hour", m.ReferenceType),
			CorrelationId: cid,
			CreatedAt:     now,
		}).Error
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":              "ReconciliationChecks",
			"company_id":         companyId,
			"correlation_id":     cid,
			"voucher_mismatches": len(unbalanced),
			"stock_qty_drift":    len(stockQty),
			"stock_value_drift":  len(stockValue),
			"outbox_stuck":       len(stuck),
		}).Info("reconciliation checks completed")
	}
	return cid, nil
}
