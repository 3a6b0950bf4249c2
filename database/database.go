// Package database opens the gorm connection and owns the schema.
package database

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nft-reward-system/models"
)

// Models lists every table migrated on startup, leaves first.
var Models = []any{
	&models.Eligibility{},
	&models.CatalogItem{},
	&models.OwnedAsset{},
	&models.ForgeRequest{},
	&models.WalletMirror{},
	&models.WorkflowInstance{},
	&models.WorkflowStepRecord{},
}

// Open connects using the configured driver ("postgres" or "sqlite").
// Duplicate-key errors are translated to gorm.ErrDuplicatedKey.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == "sqlite" {
		// SQLite only supports one writer at a time.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate applies the schema. Idempotent.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Printf("[DB] ✅ schema migrated (%d tables)", len(Models))
	return nil
}

// IsPostgres reports whether db talks to Postgres, which unlocks
// FOR UPDATE SKIP LOCKED in the reservation path.
func IsPostgres(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}
