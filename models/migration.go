package models

import (
	"log"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Company{}, &PostingLockRecord{},
		&Ledger{}, &GstRate{},
		&StockItem{}, &CostCenter{}, &Godown{},
		&Voucher{}, &VoucherEntry{}, &VoucherAttachment{},
		&VoucherNotification{},
		&OutboxMessageRecord{},
		&IdempotencyKey{},
		&ReconciliationReport{},
		&DaySummary{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
