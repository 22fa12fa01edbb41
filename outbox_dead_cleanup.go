package main

import (
	"context"
	"encoding/json"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"github.com/sirupsen/logrus"
)

// invalidateDerivedCachesOnDead runs once when a message is marked DEAD.
// A dead notification event means the recipient's pending-approval badge was
// never refreshed; dropping the cached count makes the next inbox read
// recount from the database. Voucher events need no cleanup: day summaries
// are recomputed from source on the next event for the same date, and the
// reconciliation checks flag anything that stays stale.
func invalidateDerivedCachesOnDead(ctx context.Context, logger *logrus.Logger, msg config.PubSubMessage) {
	if msg.ReferenceType != string(models.EventReferenceTypeNotification) {
		return
	}
	if len(msg.NewObj) == 0 {
		return
	}

	var notification models.VoucherNotification
	if err := json.Unmarshal(msg.NewObj, &notification); err != nil {
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"field":          "OutboxDeadCleanup",
				"company_id":     msg.CompanyId,
				"reference_type": msg.ReferenceType,
				"reference_id":   msg.ReferenceId,
			}).Warn("failed to decode notification payload for DEAD cleanup: " + err.Error())
		}
		return
	}
	if notification.ToCompanyId == "" {
		return
	}

	if err := config.RemoveRedisKey(models.PendingApprovalCacheKey(notification.ToCompanyId)); err != nil {
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"field":         "OutboxDeadCleanup",
				"company_id":    msg.CompanyId,
				"to_company_id": notification.ToCompanyId,
				"reference_id":  msg.ReferenceId,
			}).Warn("failed to drop pending-approval badge after DEAD event: " + err.Error())
		}
		return
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":         "OutboxDeadCleanup",
			"company_id":    msg.CompanyId,
			"to_company_id": notification.ToCompanyId,
			"reference_id":  msg.ReferenceId,
		}).Info("dropped pending-approval badge after DEAD notification event")
	}
}
