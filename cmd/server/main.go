package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/spreadbook/internal/auth"
	"github.com/ksred/spreadbook/internal/config"
	"github.com/ksred/spreadbook/internal/database"
	"github.com/ksred/spreadbook/internal/expiration"
	"github.com/ksred/spreadbook/internal/marketdata"
	"github.com/ksred/spreadbook/internal/pipeline"
	"github.com/ksred/spreadbook/internal/reporting"
	"github.com/ksred/spreadbook/internal/trading"
	"github.com/ksred/spreadbook/internal/valuation"
	"github.com/ksred/spreadbook/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// simulatedUnderlyings seeds the simulated quote venue
var simulatedUnderlyings = map[string]decimal.Decimal{
	"AAPL": decimal.RequireFromString("182.50"),
	"MSFT": decimal.RequireFromString("410.00"),
	"SPY":  decimal.RequireFromString("520.00"),
	"QQQ":  decimal.RequireFromString("440.00"),
	"TSLA": decimal.RequireFromString("250.00"),
}

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// main initializes and runs the spread book API server with graceful shutdown support
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	zlog.Info().Interface("config", cfg.Redacted()).Msg("Starting spreadbook")

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID())

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret, cfg.TokenTTL)
	authService.RegisterAPICredentials(cfg.APIKey, cfg.APISecret,
		auth.PermissionTrade, auth.PermissionReport, auth.PermissionInternal)
	authHandlers := auth.NewGinHandlers(authService)

	quotes := marketdata.NewCachedSource(
		marketdata.NewSimulatedSource(time.Now().UnixNano(), simulatedUnderlyings),
		cfg.QuoteCacheTTL,
		marketdata.WithRateLimit(cfg.QuoteRateLimit),
		marketdata.WithMaxRetries(cfg.MaxRetries),
		marketdata.WithInitialBackOff(cfg.RetryDelay),
	)

	tradingService := trading.NewService(db,
		trading.WithPriceMode(valuation.PriceMode(strings.ToUpper(cfg.PriceMode))))
	tradingHandlers := trading.NewGinHandlers(tradingService, &marketdata.TradeQuotes{Source: quotes})

	reportingService := reporting.NewService(tradingService, quotes,
		reporting.WithAccountSize(cfg.AccountSize),
		reporting.WithLowCreditThreshold(cfg.LowCreditThreshold))
	reportingHandlers := reporting.NewGinHandlers(reportingService)

	scanPipeline := pipeline.New(tradingService, cfg)
	pipelineHandlers := pipeline.NewGinHandlers(scanPipeline)

	// Create and start the expiration processor
	expirationProcessor := expiration.NewProcessor(tradingService, quotes,
		expiration.WithInterval(cfg.ExpirationSweepInterval))
	expirationHandlers := expiration.NewGinHandlers(expirationProcessor)

	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go expirationProcessor.Start(processorCtx)

	setupRoutes(router, cfg, authHandlers, tradingHandlers, reportingHandlers, pipelineHandlers, expirationHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")
	processorCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// - Auth routes: Public endpoints for authentication
// - Trade and report routes: Protected by JWT authentication
// - Internal routes: Protected by tokens carrying the internal permission
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	tradingHandlers *trading.GinHandlers,
	reportingHandlers *reporting.GinHandlers,
	pipelineHandlers *pipeline.GinHandlers,
	expirationHandlers *expiration.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		auth.Use(middleware.RateLimit())
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		trades := v1.Group("/trades")
		trades.Use(middleware.JWTAuth(cfg.JWTSecret), middleware.RateLimit())
		{
			trades.POST("", tradingHandlers.OpenTradeHandler())
			trades.GET("", tradingHandlers.ListTradesHandler())
			trades.GET("/:trade_id", tradingHandlers.GetTradeHandler())
			trades.GET("/:trade_id/history", tradingHandlers.HistoryHandler())
			trades.POST("/:trade_id/closing", tradingHandlers.MarkClosingHandler())
			trades.POST("/:trade_id/close", tradingHandlers.CloseTradeHandler())
			trades.POST("/:trade_id/value", tradingHandlers.ValueTradeHandler())
			trades.GET("/:trade_id/value", tradingHandlers.MarketValueHandler())
		}

		reports := v1.Group("/reports")
		reports.Use(middleware.JWTAuth(cfg.JWTSecret), middleware.RateLimit())
		{
			reports.GET("/strategies", reportingHandlers.StrategyReportHandler())
			reports.GET("/completed", reportingHandlers.CompletedTradesHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.JWTSecret))
		{
			internal.POST("/scans/:scan_id", pipelineHandlers.IngestScanHandler())
			internal.POST("/expirations/sweep", expirationHandlers.SweepHandler())
		}
	}
}
