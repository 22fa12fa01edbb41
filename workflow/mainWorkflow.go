package workflow

import (
	"encoding/json"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
)

// Consumer side of the outbox events. Vouchers and notifications are already
// committed when these run; the handlers maintain derived read models and
// stamp the outbox row processed. Everything here must tolerate redelivery.

// ProcessVoucherEvent maintains the day-summary aggregate for the voucher's
// date. Create and Update both recompute the same date: a void arrives as a
// reversal Create plus an Update on the original, and both carry the original
// date.
func ProcessVoucherEvent(tx *gorm.DB, logger *logrus.Logger, msg config.PubSubMessage) error {
	var voucher models.Voucher
	if err := json.Unmarshal(msg.NewObj, &voucher); err != nil {
		config.LogError(logger, "MainWorkflow.go", "ProcessVoucherEvent", "Unmarshal msg.NewObj", string(msg.NewObj), err)
		return err
	}
	company, err := models.GetCompanyById2(tx, msg.CompanyId)
	if err != nil {
		config.LogError(logger, "MainWorkflow.go", "ProcessVoucherEvent", "GetCompany", msg.CompanyId, err)
		return err
	}

	// Derived aggregates must not block event processing. If the upsert fails
	// (e.g. missing table during rollout), log and continue.
	if err := upsertDaySummaries(tx, company.Timezone, msg.CompanyId, voucher.VoucherDate); err != nil {
		config.LogError(logger, "MainWorkflow.go", "ProcessVoucherEvent", "UpsertDaySummaries (non-fatal)", voucher.VoucherNumber, err)
	}

	return MarkMessageProcessed(tx, msg.ID)
}

// ProcessNotificationEvent refreshes the recipient's pending-approval badge.
// The raw approval token in the create payload is for the delivery side
// channel only and is never persisted or logged here.
func ProcessNotificationEvent(tx *gorm.DB, logger *logrus.Logger, msg config.PubSubMessage) error {
	var notification models.VoucherNotification
	if err := json.Unmarshal(msg.NewObj, &notification); err != nil {
		config.LogError(logger, "MainWorkflow.go", "ProcessNotificationEvent", "Unmarshal msg.NewObj", string(msg.NewObj), err)
		return err
	}

	if err := refreshPendingApprovalCount(tx, notification.ToCompanyId); err != nil {
		config.LogError(logger, "MainWorkflow.go", "ProcessNotificationEvent", "RefreshPendingApprovalCount (non-fatal)", notification.ToCompanyId, err)
	}

	return MarkMessageProcessed(tx, msg.ID)
}

// Day summaries are recomputed from vouchers for the affected local date, so
// redelivered events and void pairs always converge on the same numbers.
func upsertDaySummaries(tx *gorm.DB, timezone string, companyId string, voucherDate interface{}) error {
	return tx.Exec(`
		INSERT INTO day_summaries (company_id, voucher_type, voucher_date, total_amount, voucher_count, reversal_count, created_at, updated_at)
		SELECT
			v.company_id,
			v.voucher_type,
			DATE(CONVERT_TZ(v.voucher_date, 'UTC', ?)) AS summary_date,
			COALESCE(SUM(CASE WHEN v.is_reversal = 0 AND v.reversed_by_voucher_id IS NULL THEN v.total_amount ELSE 0 END), 0) AS total_amount,
			COALESCE(SUM(CASE WHEN v.is_reversal = 0 THEN 1 ELSE 0 END), 0) AS voucher_count,
			COALESCE(SUM(CASE WHEN v.is_reversal = 1 THEN 1 ELSE 0 END), 0) AS reversal_count,
			NOW(),
			NOW()
		FROM vouchers v
		WHERE
			v.company_id = ?
			AND DATE(CONVERT_TZ(v.voucher_date, 'UTC', ?)) = DATE(CONVERT_TZ(?, 'UTC', ?))
		GROUP BY
			v.company_id, v.voucher_type, summary_date
		ON DUPLICATE KEY UPDATE
			total_amount = VALUES(total_amount),
			voucher_count = VALUES(voucher_count),
			reversal_count = VALUES(reversal_count),
			updated_at = NOW()
	`, timezone, companyId, timezone, voucherDate, timezone).Error
}

// refreshPendingApprovalCount recounts instead of incrementing so redelivered
// events cannot skew the badge.
func refreshPendingApprovalCount(tx *gorm.DB, companyId string) error {
	var count int64
	if err := tx.Model(&models.VoucherNotification{}).
		Where("to_company_id = ? AND status = ?", companyId, models.NotificationStatusPending).
		Count(&count).Error; err != nil {
		return err
	}
	return config.SetRedisObject(models.PendingApprovalCacheKey(companyId), count, 0)
}
