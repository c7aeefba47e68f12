package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/coinpeak/exchange-core/internal/alerts"
	"github.com/coinpeak/exchange-core/internal/database"
	"github.com/coinpeak/exchange-core/internal/notify"
	"github.com/coinpeak/exchange-core/internal/orders"
	"github.com/coinpeak/exchange-core/internal/partition"
	"github.com/coinpeak/exchange-core/internal/ticker"
	"github.com/coinpeak/exchange-core/internal/trades"
	"github.com/coinpeak/exchange-core/internal/types"
)

const (
	numUsers  = 8
	numCycles = 20
)

var symbols = []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}

var basePrices = map[string]decimal.Decimal{
	"BTC/USDT": decimal.NewFromInt(65000),
	"ETH/USDT": decimal.NewFromInt(3200),
	"SOL/USDT": decimal.NewFromInt(150),
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// main runs the whole core in-process against an in-memory database: it
// submits a mix of orders, plays the matching process by recording trades and
// transitioning orders, drifts prices on a static ticker source, and runs
// alert evaluation cycles against them.
func main() {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	orderService := orders.NewService(db)
	tradeService := trades.NewService(db)
	alertService := alerts.NewService(db)

	manager := partition.NewManager(db)
	if created, err := manager.EnsureOrderPartitions(3); err != nil {
		log.Fatal().Err(err).Msg("partition creation failed")
	} else {
		log.Info().Int("created", created).Msg("order partitions ensured")
	}
	if created, err := manager.EnsureTradePartitions(7); err != nil {
		log.Fatal().Err(err).Msg("partition creation failed")
	} else {
		log.Info().Int("created", created).Msg("trade partitions ensured")
	}

	source := ticker.NewStaticSource()
	for symbol, price := range basePrices {
		source.SetPrice(symbol, price)
	}

	dispatcher := notify.NewDispatcher(notify.LogChannel{})
	evaluator := alerts.NewEvaluator(alertService.GetDB(), source, dispatcher, time.Second)

	seedAlerts(alertService)
	seedOrders(orderService)

	matchAndRecord(orderService, tradeService)

	// Drift prices and evaluate alerts against each step.
	ctx := context.Background()
	for cycle := 0; cycle < numCycles; cycle++ {
		for _, symbol := range symbols {
			price := basePrices[symbol]
			drift := decimal.NewFromFloat((rand.Float64() - 0.5) * 0.06) // +-3%
			source.SetPrice(symbol, price.Add(price.Mul(drift)))
		}
		if err := evaluator.RunCycle(ctx); err != nil {
			log.Error().Err(err).Msg("evaluation cycle failed")
		}
	}

	report(orderService, tradeService, alertService)
}

func userID(n int) string {
	return fmt.Sprintf("user-%02d", n)
}

// seedAlerts creates ABOVE and BELOW alerts straddling each base price so
// drifting prices will trigger a portion of them.
func seedAlerts(alertService *alerts.Service) {
	created := 0
	for u := 0; u < numUsers; u++ {
		for _, symbol := range symbols {
			base := basePrices[symbol]
			offset := decimal.NewFromFloat(0.005 * float64(u+1))

			_, err := alertService.CreateAlert(userID(u), alerts.AlertSpec{
				Symbol:      symbol,
				Condition:   types.ConditionAbove,
				TargetPrice: base.Add(base.Mul(offset)).Round(2),
			})
			if err == nil {
				created++
			}
			_, err = alertService.CreateAlert(userID(u), alerts.AlertSpec{
				Symbol:      symbol,
				Condition:   types.ConditionBelow,
				TargetPrice: base.Sub(base.Mul(offset)).Round(2),
			})
			if err == nil {
				created++
			}
		}
	}
	log.Info().Int("alerts", created).Msg("alerts seeded")
}

// seedOrders submits a spread of limit and stop orders for every user.
func seedOrders(orderService *orders.Service) {
	count := 0
	for u := 0; u < numUsers; u++ {
		for _, symbol := range symbols {
			base := basePrices[symbol]
			side := types.SideBuy
			if u%2 == 1 {
				side = types.SideSell
			}

			limit := base.Add(base.Mul(decimal.NewFromFloat((rand.Float64() - 0.5) * 0.02))).Round(2)
			_, err := orderService.CreateOrder(userID(u), orders.OrderSpec{
				Symbol:     symbol,
				Side:       side,
				OrderType:  types.OrderTypeLimit,
				Quantity:   decimal.NewFromFloat(0.1 + rand.Float64()),
				LimitPrice: &limit,
			}, "")
			if err != nil {
				log.Error().Err(err).Msg("order rejected")
				continue
			}
			count++

			// Sprinkle in stop orders so the watchlist has entries.
			if u%3 == 0 {
				stop := base.Mul(decimal.NewFromFloat(0.95)).Round(2)
				if _, err := orderService.CreateOrder(userID(u), orders.OrderSpec{
					Symbol:    symbol,
					Side:      types.SideSell,
					OrderType: types.OrderTypeStop,
					Quantity:  decimal.NewFromFloat(0.25),
					StopPrice: &stop,
				}, ""); err != nil {
					log.Error().Err(err).Msg("stop order rejected")
				}
			}
		}
	}
	log.Info().Int("orders", count).Msg("orders seeded")
}

// matchAndRecord plays the external matching process: it crosses buy and sell
// limit orders read back in price-time priority, records the execution and
// transitions both sides.
func matchAndRecord(orderService *orders.Service, tradeService *trades.Service) {
	matched := 0
	for _, symbol := range symbols {
		buys, err := orderService.ActiveOrdersForSymbol(symbol, types.SideBuy)
		if err != nil {
			log.Error().Err(err).Msg("failed to read book")
			continue
		}
		sells, err := orderService.ActiveOrdersForSymbol(symbol, types.SideSell)
		if err != nil {
			log.Error().Err(err).Msg("failed to read book")
			continue
		}

		for i := 0; i < len(buys) && i < len(sells); i++ {
			buy, sell := buys[i], sells[i]
			if buy.UserID == sell.UserID {
				continue
			}
			if buy.LimitPrice.LessThan(*sell.LimitPrice) {
				break // book is sorted; no further crosses
			}

			qty := decimal.Min(buy.Quantity, sell.Quantity)
			price := *sell.LimitPrice
			err := tradeService.RecordTrade(&types.Trade{
				Symbol:       symbol,
				BuyOrderID:   buy.OrderID,
				SellOrderID:  sell.OrderID,
				BuyerUserID:  buy.UserID,
				SellerUserID: sell.UserID,
				Price:        price,
				Quantity:     qty,
				BuyerFee:     price.Mul(qty).Mul(decimal.NewFromFloat(0.001)),
				SellerFee:    price.Mul(qty).Mul(decimal.NewFromFloat(0.001)),
				FeeAsset:     "USDT",
				IsBuyerMaker: buy.CreatedAt.Before(sell.CreatedAt),
				ExecutedAt:   time.Now(),
			})
			if err != nil {
				log.Error().Err(err).Msg("trade rejected")
				continue
			}

			for _, o := range []types.Order{buy, sell} {
				filled := qty
				avg := price
				if _, err := orderService.Transition(o.OrderID, types.StatusFilled, orders.TransitionFields{
					FilledQuantity: &filled,
					AvgFillPrice:   &avg,
				}); err != nil {
					log.Error().Err(err).Str("order_id", o.OrderID).Msg("transition failed")
				}
			}
			matched++
		}
	}
	log.Info().Int("trades", matched).Msg("matching pass complete")
}

// report prints closing statistics for every symbol.
func report(orderService *orders.Service, tradeService *trades.Service, alertService *alerts.Service) {
	for _, symbol := range symbols {
		stats, err := tradeService.Stats24h(symbol)
		if err != nil {
			log.Error().Err(err).Msg("stats failed")
			continue
		}
		watch, _ := orderService.WatchEntries(symbol)
		log.Info().
			Str("symbol", symbol).
			Str("high", stats.High.String()).
			Str("low", stats.Low.String()).
			Str("volume", stats.Volume.String()).
			Int64("trades", stats.TradeCount).
			Int("watchlist", len(watch)).
			Msg("symbol summary")
	}

	remaining := 0
	triggered := 0
	for u := 0; u < numUsers; u++ {
		userAlerts, err := alertService.ListAlerts(userID(u))
		if err != nil {
			continue
		}
		for _, a := range userAlerts {
			if a.Active {
				remaining++
			} else {
				triggered++
			}
		}
	}
	log.Info().
		Int("still_active", remaining).
		Int("triggered", triggered).
		Msg("simulation complete")
}
