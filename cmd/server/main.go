package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/gin-gonic/gin"

	"github.com/coinpeak/exchange-core/internal/alerts"
	"github.com/coinpeak/exchange-core/internal/auth"
	"github.com/coinpeak/exchange-core/internal/database"
	"github.com/coinpeak/exchange-core/internal/notify"
	"github.com/coinpeak/exchange-core/internal/orders"
	"github.com/coinpeak/exchange-core/internal/partition"
	"github.com/coinpeak/exchange-core/internal/ticker"
	"github.com/coinpeak/exchange-core/internal/trades"
	"github.com/coinpeak/exchange-core/pkg/middleware"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func envDuration(name string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(name); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return fallback
}

func envInt(name string, fallback int) int {
	if raw := os.Getenv(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return fallback
}

// main initializes and runs the exchange core with graceful shutdown support.
// Besides the API server it starts three independent periodic tasks: the
// alert evaluator (seconds-scale), the watchlist reconciler (minutes-scale)
// and partition maintenance (hours-scale). None of them block the
// request-serving paths.
func main() {
	// Initialize database
	db, err := database.NewDatabase(os.Getenv("DATABASE_URL"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "exchange-core-secret"
	}
	middleware.SetJWTSecret(jwtSecret)

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	orderService := orders.NewService(db)
	orderHandlers := orders.NewGinHandlers(orderService)

	tradeService := trades.NewService(db)
	tradeHandlers := trades.NewGinHandlers(tradeService)

	alertService := alerts.NewService(db)
	alertHandlers := alerts.NewGinHandlers(alertService)

	// External collaborators
	tickerURL := os.Getenv("TICKER_URL")
	if tickerURL == "" {
		tickerURL = "http://localhost:9090"
	}
	source := ticker.NewHTTPSource(tickerURL, 5*time.Second)
	dispatcher := notify.NewDispatcher(notify.LogChannel{})

	// Background tasks
	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	defer backgroundCancel()

	evaluator := alerts.NewEvaluator(
		alertService.GetDB(),
		source,
		dispatcher,
		envDuration("ALERT_INTERVAL", 5*time.Second),
	)
	go evaluator.Start(backgroundCtx)

	manager := partition.NewManager(db)
	runner := partition.NewRunner(
		manager,
		envDuration("PARTITION_INTERVAL", 6*time.Hour),
		envInt("ORDER_PARTITION_HORIZON_MONTHS", 3),
		envInt("TRADE_PARTITION_HORIZON_DAYS", 14),
	)
	go runner.Start(backgroundCtx)

	reconciler := orders.NewReconciler(orderService, envDuration("RECONCILE_INTERVAL", 10*time.Minute))
	go reconciler.Start(backgroundCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, orderHandlers, tradeHandlers, alertHandlers, manager)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop background loops, then give outstanding requests 5 seconds
	backgroundCancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Order/alert/account routes: Protected by JWT authentication
// - Market routes: Public read-only market data
// - Internal routes: Protected by internal network authentication, used by
//   the matching process and operator tooling
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	orderHandlers *orders.GinHandlers,
	tradeHandlers *trades.GinHandlers,
	alertHandlers *alerts.GinHandlers,
	manager *partition.Manager,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orderGroup := v1.Group("/orders")
		orderGroup.Use(middleware.JWTAuth())
		{
			orderGroup.POST("", orderHandlers.CreateOrderHandler())
			orderGroup.GET("", orderHandlers.ListActiveOrdersHandler())
			orderGroup.GET("/:order_id", orderHandlers.GetOrderHandler())
			orderGroup.DELETE("/:order_id", orderHandlers.CancelOrderHandler())
		}

		// Alert routes
		alertGroup := v1.Group("/alerts")
		alertGroup.Use(middleware.JWTAuth())
		{
			alertGroup.POST("", alertHandlers.CreateAlertHandler())
			alertGroup.GET("", alertHandlers.ListAlertsHandler())
			alertGroup.POST("/:alert_id/reactivate", alertHandlers.ReactivateAlertHandler())
			alertGroup.DELETE("/:alert_id", alertHandlers.DeleteAlertHandler())
		}

		// Account routes
		accountGroup := v1.Group("/account")
		accountGroup.Use(middleware.JWTAuth())
		{
			accountGroup.GET("/trades", tradeHandlers.AccountTradesHandler())
		}

		// Market data routes (public)
		marketGroup := v1.Group("/market")
		{
			marketGroup.GET("/:symbol/trades", tradeHandlers.SymbolTradesHandler())
			marketGroup.GET("/:symbol/stats", tradeHandlers.SymbolStatsHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth())
		{
			internal.POST("/orders/:order_id/transition", orderHandlers.TransitionOrderHandler())
			internal.POST("/trades", tradeHandlers.RecordTradeHandler())
			internal.GET("/book/:symbol", orderHandlers.BookHandler())
			internal.GET("/watchlist/:symbol", orderHandlers.WatchlistHandler())
			internal.POST("/partitions/ensure", ensurePartitionsHandler(manager))
		}
	}
}

// ensurePartitionsHandler lets an operator extend the partition horizon on
// demand, outside the maintenance schedule.
func ensurePartitionsHandler(manager *partition.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		months := envInt("ORDER_PARTITION_HORIZON_MONTHS", 3)
		days := envInt("TRADE_PARTITION_HORIZON_DAYS", 14)

		ordersCreated, orderErr := manager.EnsureOrderPartitions(months)
		tradesCreated, tradeErr := manager.EnsureTradePartitions(days)
		if orderErr != nil || tradeErr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"orders_created": ordersCreated,
				"trades_created": tradesCreated,
				"error":          "partition creation incomplete, see server logs",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"orders_created": ordersCreated,
			"trades_created": tradesCreated,
		})
	}
}
