package workflow

import (
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
)

// KnownReferenceType reports whether the worker has a handler for the type.
func KnownReferenceType(referenceType string) bool {
	switch referenceType {
	case string(models.EventReferenceTypeVoucher), string(models.EventReferenceTypeNotification):
		return true
	}
	return false
}

// MarkMessageProcessed stamps the outbox row terminally processed. Trigger
// messages (e.g. Reconcile) are published directly rather than from the
// outbox and have no row to stamp.
func MarkMessageProcessed(tx *gorm.DB, messageId int) error {
	if messageId == 0 {
		return nil
	}
	now := time.Now().UTC()
	return tx.Model(&models.OutboxMessageRecord{}).
		Where("id = ?", messageId).
		Updates(map[string]interface{}{
			"is_processed":      true,
			"processing_status": models.OutboxProcessStatusSucceeded,
			"processed_at":      &now,
		}).Error
}

// DropMessage marks a message terminally processed with a reason so it cannot
// poison the queue. Used for reference types the worker does not understand;
// the row stays queryable through the outbox status views.
func DropMessage(tx *gorm.DB, logger *logrus.Logger, msg config.PubSubMessage, reason string) error {
	if msg.ID != 0 {
		now := time.Now().UTC()
		if err := tx.Model(&models.OutboxMessageRecord{}).
			Where("id = ?", msg.ID).
			Updates(map[string]interface{}{
				"is_processed":       true,
				"processing_status":  models.OutboxProcessStatusDead,
				"last_process_error": &reason,
				"processed_at":       &now,
			}).Error; err != nil {
			return err
		}
	}
	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":          "MessageGate",
			"company_id":     msg.CompanyId,
			"reference_type": msg.ReferenceType,
			"reference_id":   msg.ReferenceId,
			"message_id":     msg.ID,
		}).Warn("message dropped: " + reason)
	}
	return nil
}
