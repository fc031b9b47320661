package database

import (
	"fmt"

	"subscription-billing/internal/domain/billing"
	"subscription-billing/internal/domain/orders"
	"subscription-billing/internal/domain/plans"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB opens the postgres connection pool and stores it in DB.
func InitDB(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DB_URL not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	DB = db
	return db, nil
}

// Migrate creates or updates every table owned by the billing core.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&plans.Tier{},
		&orders.Order{},
		&billing.Payment{},
		&billing.WebhookEvent{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}
