package migrations

import (
	"gorm.io/gorm"
)

// CreatePartitionedParents creates the orders and trades parent tables as
// range-partitioned tables on postgres. AutoMigrate cannot emit PARTITION BY,
// and postgres requires the partition key in every unique constraint, so these
// two tables are declared by hand. Orders partition by creation month, trades
// by execution day.
//
// The column set must stay in step with types.Order and types.Trade.
func CreatePartitionedParents(db *gorm.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id BIGSERIAL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ,
			deleted_at TIMESTAMPTZ,
			order_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			order_type TEXT NOT NULL,
			status TEXT NOT NULL,
			quantity DECIMAL(32,16) NOT NULL,
			filled_quantity DECIMAL(32,16) NOT NULL DEFAULT 0,
			limit_price DECIMAL(32,16),
			stop_price DECIMAL(32,16),
			avg_fill_price DECIMAL(32,16),
			time_in_force TEXT NOT NULL DEFAULT 'GTC',
			idempotency_key TEXT,
			expires_at TIMESTAMPTZ,
			filled_at TIMESTAMPTZ,
			cancelled_at TIMESTAMPTZ,
			expired_at TIMESTAMPTZ,
			PRIMARY KEY (id, created_at)
		) PARTITION BY RANGE (created_at)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_order_id ON orders (order_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_status ON orders (user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_symbol_status ON orders (symbol, status)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ,
			deleted_at TIMESTAMPTZ,
			trade_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			buy_order_id TEXT NOT NULL,
			sell_order_id TEXT NOT NULL,
			buyer_user_id TEXT NOT NULL,
			seller_user_id TEXT NOT NULL,
			price DECIMAL(32,16) NOT NULL,
			quantity DECIMAL(32,16) NOT NULL,
			buyer_fee DECIMAL(32,16) NOT NULL DEFAULT 0,
			seller_fee DECIMAL(32,16) NOT NULL DEFAULT 0,
			fee_asset TEXT,
			is_buyer_maker BOOLEAN NOT NULL DEFAULT FALSE,
			executed_at TIMESTAMPTZ NOT NULL,
			settled_at TIMESTAMPTZ,
			PRIMARY KEY (id, executed_at)
		) PARTITION BY RANGE (executed_at)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_trade_id ON trades (trade_id, executed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol_time ON trades (symbol, executed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_buyer ON trades (buyer_user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_seller ON trades (seller_user_id)`,
	}

	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
