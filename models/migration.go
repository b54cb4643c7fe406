package models

import (
	"log"

	"github.com/shipstream/magento-sync/config"
)

func MigrateTable() {
	db := config.GetDB()
	if db == nil {
		return
	}

	err := db.AutoMigrate(
		&SyncRun{}, &SyncError{}, &IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
