package trades

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/coinpeak/exchange-core/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateTrade is a single atomic insert. Trades are never updated or deleted;
// retention archival at the partition level is the only thing that removes them.
func (d *Database) CreateTrade(trade *types.Trade) error {
	return d.db.Create(trade).Error
}

func (d *Database) TradesForSymbol(symbol string, since time.Time, limit int) ([]types.Trade, error) {
	var out []types.Trade
	err := d.db.
		Where("symbol = ? AND executed_at >= ?", symbol, since).
		Order("executed_at DESC, trade_id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Database) TradesForUser(userID string, since time.Time, limit int) ([]types.Trade, error) {
	var out []types.Trade
	err := d.db.
		Where("(buyer_user_id = ? OR seller_user_id = ?) AND executed_at >= ?", userID, userID, since).
		Order("executed_at DESC, trade_id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SymbolStats is the rolling-window aggregate for one symbol.
type SymbolStats struct {
	Symbol     string          `json:"symbol"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Volume     decimal.Decimal `json:"volume"`
	TradeCount int64           `json:"trade_count"`
	Since      time.Time       `json:"since"`
}

// AggregateStats computes high/low/volume over the trade store directly. The
// (symbol, executed_at) index serves the window scan; there is no separately
// maintained aggregate, so the result is never stale.
func (d *Database) AggregateStats(symbol string, since time.Time) (*SymbolStats, error) {
	row := struct {
		High  decimal.Decimal
		Low   decimal.Decimal
		Vol   decimal.Decimal
		Count int64
	}{}
	err := d.db.Model(&types.Trade{}).
		Select("COALESCE(MAX(price), 0) AS high, COALESCE(MIN(price), 0) AS low, COALESCE(SUM(quantity), 0) AS vol, COUNT(*) AS count").
		Where("symbol = ? AND executed_at >= ?", symbol, since).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &SymbolStats{
		Symbol:     symbol,
		High:       row.High,
		Low:        row.Low,
		Volume:     row.Vol,
		TradeCount: row.Count,
		Since:      since,
	}, nil
}
