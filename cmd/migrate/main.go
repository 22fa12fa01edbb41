package main

import (
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
)

// migrate runs the GORM AutoMigrate set against the configured database and
// exits. Deployments that start the API with SKIP_MIGRATIONS=true run this
// out-of-band instead, so schema changes happen once per release rather than
// on every instance boot.
func main() {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	config.GetLogger().Info("running schema migration")
	models.MigrateTable()
	fmt.Println("schema migration complete")
}
