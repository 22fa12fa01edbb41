package workflow

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
)

// RunReconciliationChecks runs the full audit for one company: the ledger
// balance replay plus the SQL cross-checks (voucher balance, stock on hand,
// stock value, stuck outbox rows). Every check runs even when an earlier one
// finds drift; drift surfaces as the returned error, findings live in
// reconciliation_reports under the returned correlation id.
func RunReconciliationChecks(ctx context.Context, db *gorm.DB, logger *logrus.Logger, companyId string) (string, error) {
	cid, drifted, auditErr := AuditLedgerBalances(ctx, db, logger, companyId)
	if auditErr != nil {
		var conflict *models.ConflictError
		if !errors.As(auditErr, &conflict) {
			return cid, auditErr
		}
	}

	// Share one correlation id across both passes so operators can query all
	// findings of a run together.
	ctx = utils.SetCorrelationIdInContext(ctx, cid)
	if _, err := models.RunReconciliationChecks(ctx, companyId); err != nil {
		return cid, err
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":          "ReconciliationChecks",
			"company_id":     companyId,
			"correlation_id": cid,
			"ledger_drift":   len(drifted),
		}).Info("reconciliation run completed")
	}
	return cid, auditErr
}
