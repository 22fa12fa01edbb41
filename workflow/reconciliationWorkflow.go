package workflow

import (
	"errors"
	"strconv"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
)

// ProcessReconciliationWorkflow drains the company's unprocessed outbox rows
// and then runs the audit checks. It runs under the company posting lock, so
// the snapshot the checks see is quiet.
func ProcessReconciliationWorkflow(tx *gorm.DB, logger *logrus.Logger, pubSubMsg config.PubSubMessage) error {
	companyId := pubSubMsg.CompanyId
	var records []models.OutboxMessageRecord
	err := tx.Where("company_id = ? AND is_processed = 0", companyId).Order("id").Find(&records).Error
	if err != nil {
		config.LogError(logger, "ReconciliationWorkflow.go", "ProcessReconciliationWorkflow", "Querying OutboxMessageRecords", pubSubMsg, err)
		return err
	}

	for _, record := range records {
		// Durable idempotency per outbox record (reconcile can be retried safely).
		handlerName := string(record.ReferenceType)
		messageId := strconv.Itoa(record.ID)
		skip, err := BeginIdempotency(tx, companyId, handlerName, messageId)
		if err != nil {
			return err
		}
		if skip {
			continue
		}

		msg := models.ConvertToPubSubMessage(record)
		switch record.ReferenceType {
		case models.EventReferenceTypeVoucher:
			err = ProcessVoucherEvent(tx, logger, msg)
		case models.EventReferenceTypeNotification:
			err = ProcessNotificationEvent(tx, logger, msg)
		default:
			err = DropMessage(tx, logger, msg, "unknown reference type during reconcile")
		}
		if err != nil {
			_ = MarkIdempotencyFailed(tx, companyId, handlerName, messageId, err)
			return err
		}
		if err := MarkIdempotencySucceeded(tx, companyId, handlerName, messageId); err != nil {
			return err
		}
	}

	// Checks write through their own connection so findings survive even if a
	// later message in this batch rolls the transaction back.
	cid, err := RunReconciliationChecks(tx.Statement.Context, config.GetDB(), logger, companyId)
	if err != nil {
		var conflict *models.ConflictError
		if errors.As(err, &conflict) {
			// Drift is recorded under cid; the trigger message itself is done.
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"field":          "ReconciliationWorkflow",
					"company_id":     companyId,
					"correlation_id": cid,
				}).Warn("reconciliation found drift: " + err.Error())
			}
			return nil
		}
		return err
	}
	return nil
}
