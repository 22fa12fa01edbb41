package main

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"sync"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"bitbucket.org/mmdatafocus/ledger_backend/workflow"
	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	companyMutexMap = make(map[string]*sync.Mutex)
	globalMutex     = &sync.Mutex{}
)

// RunLedgerEventWorker subscribes to the outbox event stream with a pull
// subscription and maintains the derived read models (day summaries,
// pending-approval badges). Posting itself is synchronous in the API;
// everything consumed here must tolerate redelivery.
//
// Cloud Run deployments use the /pubsub push endpoint instead; this worker
// is started only when PUBSUB_SUBSCRIPTION is set.
func RunLedgerEventWorker() error {
	logger := config.GetLogger()
	ctx := context.Background()
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, os.Getenv("PUBSUB_TOPIC"))
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(client, os.Getenv("PUBSUB_SUBSCRIPTION"), topic)
	if err != nil {
		return err
	}
	// Specify the number of concurrent processes
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	// Create a callback function to handle messages.
	callback := func(ctx context.Context, msg *pubsub.Message) {
		m := config.PubSubMessage{}
		err := json.Unmarshal(msg.Data, &m)
		if err != nil {
			config.LogError(logger, "ledgerEventWorker.go", "RunLedgerEventWorker", "Unmarshaling pubsub message", msg.Data, err)
			// Malformed payload: ack/drop to avoid infinite redelivery.
			msg.Ack()
			return
		}

		// Get or create the mutex for the current CompanyId
		globalMutex.Lock()
		mutex, exists := companyMutexMap[m.CompanyId]
		if !exists {
			mutex = &sync.Mutex{}
			companyMutexMap[m.CompanyId] = mutex
		}
		globalMutex.Unlock()

		// Lock the specific company mutex
		mutex.Lock()
		defer mutex.Unlock()

		ctx = context.WithValue(ctx, utils.ContextKeyCompanyId, m.CompanyId)
		ctx = context.WithValue(ctx, utils.ContextKeyUserId, 0)
		ctx = context.WithValue(ctx, utils.ContextKeyUserName, "System")
		ctx = utils.SetCorrelationIdInContext(ctx, m.CorrelationId)

		markOutboxProcessing(ctx, m.ID)
		if err := ProcessMessage(ctx, logger, m); err != nil {
			if dead := markOutboxProcessFailure(ctx, logger, m, err); dead {
				invalidateDerivedCachesOnDead(ctx, logger, m)
				// Terminal: ack so the subscription stops redelivering.
				// Replay goes through /internal/ops/outbox/replay.
				msg.Ack()
				return
			}
			logger.WithFields(logrus.Fields{
				"field":          "LedgerEventWorker",
				"company_id":     m.CompanyId,
				"reference_type": m.ReferenceType,
				"reference_id":   m.ReferenceId,
				"message_id":     msg.ID,
			}).Error("pubsub processing failed: " + err.Error())
			msg.Nack()
			return
		}
		markOutboxProcessSuccess(ctx, logger, m)
		msg.Ack()
	}

	// Receive messages.
	go func() {
		err := sub.Receive(ctx, callback)

		if err != nil {
			config.LogError(logger, "ledgerEventWorker.go", "RunLedgerEventWorker", "Failed to receive messages", nil, err)
		}
	}()

	return nil
}

// ProcessMessage handles one outbox event inside a single transaction,
// serialized per company by the MySQL advisory lock. It is shared by the
// pull worker, the /pubsub push endpoint and the direct processor, so the
// same message may arrive through several paths; the idempotency key keeps
// the handlers single-shot.
func ProcessMessage(ctx context.Context, logger *logrus.Logger, m config.PubSubMessage) error {
	db := config.GetDB()
	return db.Transaction(func(tx *gorm.DB) error {
		// Enforce strict per-company ordering across instances.
		if err := workflow.AcquireCompanyPostingLock(tx.WithContext(ctx), m.CompanyId); err != nil {
			return err
		}
		defer workflow.ReleaseCompanyPostingLock(tx.WithContext(ctx), m.CompanyId)

		if m.ReferenceType == "Reconcile" {
			// IMPORTANT: do not call tx.Commit()/tx.Rollback() inside db.Transaction.
			// Returning error triggers rollback; returning nil commits.
			return workflow.ProcessReconciliationWorkflow(tx.WithContext(ctx), logger, m)
		}

		if !workflow.KnownReferenceType(m.ReferenceType) {
			return workflow.DropMessage(tx.WithContext(ctx), logger, m, "unknown reference type")
		}

		handlerName := m.ReferenceType
		messageId := strconv.Itoa(m.ID)

		skip, err := workflow.BeginIdempotency(tx.WithContext(ctx), m.CompanyId, handlerName, messageId)
		if err != nil {
			return err
		}
		if skip {
			return nil
		}

		if err := ProcessWorkflow(tx.WithContext(ctx), logger, m); err != nil {
			_ = workflow.MarkIdempotencyFailed(tx.WithContext(ctx), m.CompanyId, handlerName, messageId, err)
			return err
		}
		return workflow.MarkIdempotencySucceeded(tx.WithContext(ctx), m.CompanyId, handlerName, messageId)
	})
}

// If any changes are made, change in reconciliationWorkflow.go too
func ProcessWorkflow(tx *gorm.DB, logger *logrus.Logger, msg config.PubSubMessage) error {
	switch msg.ReferenceType {
	case string(models.EventReferenceTypeVoucher):
		return workflow.ProcessVoucherEvent(tx, logger, msg)
	case string(models.EventReferenceTypeNotification):
		return workflow.ProcessNotificationEvent(tx, logger, msg)
	}
	return nil
}
