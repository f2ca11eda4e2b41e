package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/gridpool/market-core/internal/accounting"
	"github.com/gridpool/market-core/internal/auction"
	"github.com/gridpool/market-core/internal/auth"
	"github.com/gridpool/market-core/internal/config"
	"github.com/gridpool/market-core/internal/database"
	"github.com/gridpool/market-core/internal/gateway"
	"github.com/gridpool/market-core/internal/registry"
	"github.com/gridpool/market-core/internal/scheduler"
	"github.com/gridpool/market-core/internal/types"
	"github.com/gridpool/market-core/pkg/middleware"
	"github.com/gridpool/market-core/pkg/response"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings.
// In development mode it enables pretty printing with timestamps; debug
// logging can be enabled via the DEBUG environment variable.
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main wires the wholesale market core: timeslot/broker registry, clearing
// engine, ledger and scheduler, plus the broker-facing API, with graceful
// shutdown.
func main() {
	cfg, err := config.Load(os.Getenv("MARKET_CONFIG"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Core services. The gateway logs deliveries; brokers poll the API
	// for their balances and the published books.
	reg := registry.NewService(time.Now().UTC().Truncate(time.Hour), cfg.Timeslot)
	gw := gateway.NewLogGateway()
	ledger := accounting.NewService(db, reg, gw, cfg.Accounting)
	market := auction.NewService(db, reg, ledger, gw, cfg.Auction)
	sched := scheduler.NewService(reg, market, ledger)

	authService := auth.NewService(cfg.Server.JWTSecret)
	for _, cred := range auth.TestBrokers {
		authService.RegisterBroker(cred)
		if _, err := reg.AddBroker(cred.Broker, false); err != nil {
			zlog.Fatal().Err(err).Str("broker", cred.Broker).Msg("Failed to register broker")
		}
	}

	router := gin.Default()
	router.Use(middleware.RateLimit())

	authHandlers := auth.NewGinHandlers(authService)
	marketHandlers := auction.NewGinHandlers(market)
	ledgerHandlers := accounting.NewGinHandlers(ledger)
	setupRoutes(router, cfg, authHandlers, marketHandlers, ledgerHandlers, sched)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	if cfg.Server.AutoStepSeconds > 0 {
		go func() {
			interval := time.Duration(cfg.Server.AutoStepSeconds) * time.Second
			if err := sched.Run(schedCtx, interval); err != nil {
				zlog.Fatal().Err(err).Msg("Simulation halted")
			}
		}()
	}

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
	schedCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints:
// - Auth routes: public token exchange
// - Order routes: JWT-protected order submission
// - Market routes: JWT-protected books, trades and broker status
// - Internal routes: clock stepping, protected by internal auth
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	marketHandlers *auction.GinHandlers,
	ledgerHandlers *accounting.GinHandlers,
	sched *scheduler.Service,
) {
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		protected := v1.Group("")
		protected.Use(middleware.JWTAuth(cfg.Server.JWTSecret))
		{
			protected.POST("/orders", marketHandlers.SubmitOrderHandler())
			protected.GET("/orderbooks/:timeslot", marketHandlers.OrderbookHandler())
			protected.GET("/trades/:timeslot", marketHandlers.TradesHandler())
			protected.GET("/brokers/:username", ledgerHandlers.BrokerStatusHandler())
			protected.GET("/brokers/:username/transactions", ledgerHandlers.TransactionsHandler())
			protected.GET("/brokers/:username/cash", ledgerHandlers.CashHistoryHandler())
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.Server.JWTSecret))
		{
			internal.POST("/step", stepHandler(sched))
		}
	}
}

// stepHandler advances the simulation one timeslot.
func stepHandler(sched *scheduler.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ts, err := sched.Step()
		if err != nil {
			zlog.Error().Err(err).Msg("step failed")
			response.InternalError(c, "Simulation step failed")
			return
		}
		response.Success(c, types.StepResponse{
			Timeslot:  ts.Serial,
			SteppedAt: ts.Start,
		})
	}
}
