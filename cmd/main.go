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

	"github.com/eaglebank/transfer-service/internal/command"
	"github.com/eaglebank/transfer-service/internal/config"
	"github.com/eaglebank/transfer-service/internal/handler"
	"github.com/eaglebank/transfer-service/internal/query"
	"github.com/eaglebank/transfer-service/internal/repository"
	"github.com/eaglebank/transfer-service/shared/events"
	"github.com/eaglebank/transfer-service/shared/logger"
	"github.com/eaglebank/transfer-service/shared/middleware"
	redisClient "github.com/eaglebank/transfer-service/shared/redis"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "transfer-service: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ledger store (write side and read fallback)
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Redis (account view cache + event stream)
	redis, err := redisClient.NewClient(ctx, redisClient.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	defer redis.Close()

	// --- CQRS wiring ---
	publisher := events.NewPublisher(redis.Client)

	ledgerRepo := repository.NewLedgerRepository(db, log.Named("ledger"), repository.LedgerOptions{
		Isolation: cfg.TxIsolation,
		TxTimeout: cfg.TxTimeout,
	})
	accountRepo := repository.NewAccountReadRepository(db, redis.Client, log.Named("cache"))
	transferRepo := repository.NewTransferReadRepository(db)

	commandSvc := command.NewTransferCommandService(ledgerRepo, accountRepo, publisher, log.Named("transfer"), command.TransferOptions{
		BalancePrecheck: cfg.BalancePrecheck,
	})
	querySvc := query.NewAccountQueryService(accountRepo, transferRepo)

	projector := command.NewAccountProjector(accountRepo, log.Named("projector"))
	hostname, _ := os.Hostname()
	subscriber := events.NewSubscriber(redis.Client, log.Named("subscriber"), events.SubscriberConfig{
		Group:    "account-projector",
		Consumer: "transfer-service-" + hostname,
		Stream:   events.TransferEventsStream,
		Handler:  projector.HandleTransferEvent,
	})
	stopSubscriber := subscriber.Go(ctx)
	defer stopSubscriber()

	// Setup router
	if cfg.Env == logger.EnvironmentProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(log.Named("http")))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	handler.NewTransferHandler(commandSvc, querySvc).Register(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("transfer service starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}
