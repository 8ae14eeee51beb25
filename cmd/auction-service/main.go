package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisClient "github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/SICKMADE/hobbydork-site-sub001/internal/api/handlers"
	"github.com/SICKMADE/hobbydork-site-sub001/internal/config"
	"github.com/SICKMADE/hobbydork-site-sub001/internal/infrastructure/mysql"
	"github.com/SICKMADE/hobbydork-site-sub001/internal/infrastructure/payment"
	"github.com/SICKMADE/hobbydork-site-sub001/internal/infrastructure/redis"
	"github.com/SICKMADE/hobbydork-site-sub001/internal/services"
	"github.com/SICKMADE/hobbydork-site-sub001/pkg/logger"
)

func main() {
	log := logger.New()
	log.Info("starting auction engine")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}

	flatFee, err := decimal.NewFromString(cfg.Auction.FlatListingFee)
	if err != nil {
		log.Fatal("invalid flat listing fee", "value", cfg.Auction.FlatListingFee, "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Redis
	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", "error", err)
	}
	log.Info("connected to redis", "address", cfg.Redis.Address)

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		log.Fatal("failed to open mysql", "error", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close mysql connection", "error", err)
		}
	}()

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping mysql", "error", err)
	}
	log.Info("connected to mysql")

	// Repositories and infrastructure
	auctionRepo := mysql.NewMySQLAuctionRepository(db)
	bidRepo := mysql.NewMySQLBidRepository(db)
	stateCache := redis.NewRedisStateCache(rdb)
	eventPublisher := redis.NewEventPublisher(rdb)
	processedEvents := redis.NewProcessedEventStore(rdb)
	gateway := payment.New(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)

	// Services
	stateMachine := services.NewAuctionStateMachine(
		auctionRepo, bidRepo, gateway, stateCache, eventPublisher,
		flatFee, cfg.Auction.DefaultWindow, log)
	bidLedger := services.NewBidLedger(
		auctionRepo, bidRepo, gateway, stateCache, eventPublisher,
		cfg.Gateway.Timeout, log)
	adminService := services.NewAdminService(stateMachine, log)
	scheduler := services.NewCronAuctionScheduler(
		auctionRepo, bidRepo, stateMachine, cfg.Auction.CloseInterval, log)

	// HTTP
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())

	auctionHandler := handlers.NewAuctionHandler(stateMachine, bidLedger, log)
	adminHandler := handlers.NewAdminHandler(adminService, log)
	webhookHandler := handlers.NewWebhookHandler(auctionRepo, bidRepo, processedEvents, log)

	api := e.Group("/api/v1")
	api.POST("/auctions", auctionHandler.CreateAuction)
	api.POST("/auctions/:id/bids", auctionHandler.PlaceBid)
	api.POST("/blind-auctions", auctionHandler.CreateBlindAuction)
	api.POST("/blind-auctions/:id/bids", auctionHandler.SubmitBlindBid)

	admin := api.Group("/admin", handlers.AdminAuth(cfg.Admin.Token))
	admin.POST("/auctions/:id/rerun", adminHandler.RerunAuction)
	admin.POST("/auctions/:id/override-winner", adminHandler.OverrideWinner)

	e.POST("/webhooks/payment", webhookHandler.HandlePaymentEvent)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   "auction-engine",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Background close loop
	if err := scheduler.Start(context.Background()); err != nil {
		log.Fatal("failed to start scheduler", "error", err)
	}

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()
	log.Info("auction engine listening", "address", serverAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down auction engine...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := scheduler.Stop(); err != nil {
		log.Error("failed to stop scheduler", "error", err)
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("auction engine stopped")
}
