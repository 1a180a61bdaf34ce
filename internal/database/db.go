package database

import (
	"fmt"
	"log"
	"time"

	"comanda-pos/internal/database/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func gormConfig() *gorm.Config {
	return &gorm.Config{SkipDefaultTransaction: true}
}

func NewConnection(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DSN is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("failed to get sql.DB: %v", err)
	}

	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	return db, nil
}

func MigratePOSDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.SettlementRecord{},
		&models.OrderRecord{},
		&models.OrderLineRecord{},
	)
}
