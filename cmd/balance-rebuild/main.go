package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"bitbucket.org/mmdatafocus/ledger_backend/workflow"
)

// balance-rebuild overwrites every ledger's current_balance with the value
// replayed from its opening balance and posted entries. This is the operator
// remediation after /internal/ops/reconcile reports drift; the audit itself
// never writes. Run with --audit-only first to see what would change.
func main() {
	companyID := flag.String("company-id", "", "Required: company id (uuid)")
	auditOnly := flag.Bool("audit-only", false, "Report drift without writing anything")
	flag.Parse()

	if strings.TrimSpace(*companyID) == "" {
		fmt.Fprintln(os.Stderr, "--company-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	logger := logrus.New()

	ctx := utils.SetCompanyIdInContext(context.Background(), *companyID)
	ctx = utils.SetUserNameInContext(ctx, "balance-rebuild")

	if *auditOnly {
		cid, drifted, err := workflow.AuditLedgerBalances(ctx, db, logger, *companyID)
		if err != nil && len(drifted) == 0 {
			fmt.Fprintf(os.Stderr, "audit failed: %v\n", err)
			os.Exit(1)
		}
		for _, report := range drifted {
			fmt.Printf("ledger %d: current=%s replayed=%s\n", report.EntityId, report.Actual, report.Expected)
		}
		fmt.Printf("audit complete: %d ledger(s) drifted, correlation_id=%s\n", len(drifted), cid)
		if len(drifted) > 0 {
			os.Exit(2)
		}
		return
	}

	rebuilt, err := workflow.RebuildLedgerBalances(ctx, db, logger, *companyID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rebuild failed after %d ledger(s): %v\n", rebuilt, err)
		os.Exit(1)
	}
	fmt.Printf("rebuild complete: %d ledger(s) corrected\n", rebuilt)
}
