package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/coinpeak/exchange-core/internal/database/migrations"
	"github.com/coinpeak/exchange-core/internal/orders"
	"github.com/coinpeak/exchange-core/internal/partition"
	"github.com/coinpeak/exchange-core/internal/types"
)

// NewDatabase opens the durable store and migrates the schema. With a
// postgres DSN the orders/trades tables are the time-partitioned parents the
// partition manager maintains; with an empty DSN it falls back to a local
// sqlite file for development.
func NewDatabase(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if dsn != "" {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open("exchange.db")
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Migrate creates the schema and seeds the default retention policies. On
// postgres the orders/trades parents are partitioned tables built from raw
// DDL; everywhere else AutoMigrate covers them too.
func Migrate(db *gorm.DB) error {
	models := []interface{}{
		&types.StopWatchEntry{},
		&types.PriceAlert{},
		&orders.IdempotencyRecord{},
		&partition.Partition{},
		&partition.RetentionPolicy{},
	}

	if db.Dialector.Name() == "postgres" {
		if err := migrations.CreatePartitionedParents(db); err != nil {
			return err
		}
	} else {
		models = append([]interface{}{&types.Order{}, &types.Trade{}}, models...)
	}

	if err := db.AutoMigrate(models...); err != nil {
		return err
	}

	return seedRetentionPolicies(db)
}

// seedRetentionPolicies installs defaults only when no policy exists, so an
// operator's tuned values survive restarts.
func seedRetentionPolicies(db *gorm.DB) error {
	defaults := map[string]int{
		partition.OrdersTable: 24, // two years of orders
		partition.TradesTable: 12, // one year of trades
	}
	for parent, months := range defaults {
		var count int64
		if err := db.Model(&partition.RetentionPolicy{}).
			Where("parent = ?", parent).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if err := db.Create(&partition.RetentionPolicy{
			Parent:          parent,
			RetentionMonths: months,
		}).Error; err != nil {
			return err
		}
	}
	return nil
}
