package store

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenInMemory opens a private, migrated SQLite database. It backs the
// store-layer and dependent-package tests so C9's unique-constraint race can
// be exercised without a live Postgres instance, per SPEC_FULL's test
// tooling section.
func OpenInMemory() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows only one writer at a time; serialize through a single
	// connection so concurrent callers queue on the busy timeout above
	// instead of racing separate connections into SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}
