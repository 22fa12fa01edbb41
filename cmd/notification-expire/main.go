package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/workflow"
)

// notification-expire moves pending voucher notifications whose approval
// token window lapsed into Ignored. Intended as a scheduled job (Cloud
// Scheduler / cron); a notification answered while the sweep runs simply
// loses the compare-and-set and stays as the user left it.
func main() {
	batchSize := flag.Int("batch-size", 100, "Notifications swept per query")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	logger := logrus.New()

	swept, err := workflow.SweepExpiredNotifications(context.Background(), logger, *batchSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed after %d notification(s): %v\n", swept, err)
		os.Exit(1)
	}
	fmt.Printf("sweep complete: %d expired notification(s) ignored\n", swept)
}
