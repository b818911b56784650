package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dinepay/internal/config"
	"dinepay/internal/handlers"
	"dinepay/internal/models"
	"dinepay/internal/repositories"
	"dinepay/internal/services"
	"dinepay/pkg/ledger"
	"dinepay/pkg/rabbitmq"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// --- Configuration ---
	cfg, err := config.Load(viper.New())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	probes := map[string]handlers.Probe{}

	// --- Order store ---
	orderRepo, storeProbe, err := openStore(cfg)
	if err != nil {
		return err
	}
	if storeProbe != nil {
		probes["store"] = storeProbe
	}

	// --- RabbitMQ (optional) ---
	var events services.EventPublisher
	var mqClient *rabbitmq.Client
	if cfg.RabbitMQURL != "" {
		mqClient, err = rabbitmq.NewClient(rabbitmq.Config{URL: cfg.RabbitMQURL})
		if err != nil {
			return fmt.Errorf("initialize RabbitMQ client: %w", err)
		}
		defer mqClient.Close()
		events = mqClient
	} else {
		slog.Info("RABBITMQ_URL not set, events disabled and transfers reconciled inline")
	}

	// --- Ledger ---
	ledgerClient, err := ledger.Dial(ctx, cfg.Ledger.RPCURL, cfg.Ledger.ContractAddress)
	if err != nil {
		return err
	}
	defer ledgerClient.Close()
	probes["ledger"] = func(ctx context.Context) error {
		listening, err := ledgerClient.IsListening(ctx)
		if err == nil && !listening {
			err = errors.New("node is not listening")
		}
		return err
	}

	pool, err := walletPool(cfg.Ledger.WalletPoolFile)
	if err != nil {
		return err
	}
	wallets, err := services.NewWalletMapper(pool)
	if err != nil {
		return err
	}

	settlement := services.NewChainSettlement(ledgerClient, wallets, services.ChainSettlementConfig{
		ExchangeRate:      cfg.Ledger.ExchangeRate,
		GasLimit:          cfg.Ledger.GasLimit,
		GasPrice:          cfg.Ledger.GasPrice,
		PreferredReceiver: cfg.Ledger.PreferredReceiver,
	})
	if err := settlement.Initialize(ctx); err != nil {
		// Card payments retry initialization on first use.
		slog.Warn("ledger not ready at startup", "rpc", cfg.Ledger.RPCURL, "error", err)
	}

	// --- Services ---
	gateway := services.NewOrderGateway(orderRepo)
	qr := services.NewQRPaymentGenerator(services.BankAccount{
		BankCode:      cfg.Bank.Code,
		AccountNumber: cfg.Bank.AccountNumber,
		AccountName:   cfg.Bank.AccountName,
	}, cfg.Bank.QRImageBaseURL, cfg.Bank.QRMinAmount)
	checkout := services.NewCheckoutService(gateway, settlement, qr, services.PollOptions{
		MaxAttempts: cfg.Poll.MaxAttempts,
		Interval:    cfg.Poll.Interval,
	}, events)
	orderService := services.NewOrderService(gateway, settlement, events)
	authService := services.NewAuthService(cfg.JWTSecret, cfg.WebhookAPIKeyHash)
	reconciler := services.NewTransferReconciler(gateway, cfg.Bank.AccountNumber, events)

	var transfers services.TransferSink = services.InlineTransferSink{Reconciler: reconciler}
	if mqClient != nil {
		transfers = services.QueuedTransferSink{Publisher: mqClient}
		if err := mqClient.Consume(ctx, rabbitmq.BankTransferQueue, reconciler.HandleMessage); err != nil {
			return fmt.Errorf("start transfer consumer: %w", err)
		}
	}
	if cfg.WebhookAPIKeyHash == "" {
		slog.Warn("WEBHOOK_API_KEY_HASH not set, bank webhook rejects every call")
	}

	// --- HTTP ---
	app := handlers.NewApp(handlers.Deps{
		Auth:       authService,
		Checkout:   checkout,
		Orders:     orderService,
		Transfers:  transfers,
		Probes:     probes,
		RequestLog: true,
	})

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "port", cfg.AppPort, "store", cfg.StoreDriver)
		serverErr <- app.Listen(cfg.AppPort)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("error during Fiber shutdown", "error", err)
	}
	if err := checkout.Shutdown(shutdownCtx); err != nil {
		slog.Error("pending payment waits did not stop", "error", err)
	}
	slog.Info("server gracefully stopped")
	return nil
}

// openStore builds the order repository selected by STORE_DRIVER.
func openStore(cfg *config.Config) (repositories.OrderRepository, handlers.Probe, error) {
	var dialector gorm.Dialector
	switch cfg.StoreDriver {
	case config.DriverMemory:
		slog.Warn("using in-memory order store, orders are lost on restart")
		return repositories.NewMemoryOrderRepository(), nil, nil
	case config.DriverAppwrite:
		return repositories.NewAppwriteOrderRepository(repositories.AppwriteConfig{
			Endpoint:     cfg.Appwrite.Endpoint,
			ProjectID:    cfg.Appwrite.ProjectID,
			DatabaseID:   cfg.Appwrite.DatabaseID,
			CollectionID: cfg.Appwrite.CollectionID,
			APIKey:       cfg.Appwrite.APIKey,
		}), nil, nil
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DatabaseDSN)
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.DatabaseDSN)
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", cfg.StoreDriver, err)
	}
	if err := repositories.Migrate(db); err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return repositories.NewGORMOrderRepository(db), sqlDB.PingContext, nil
}

// walletPool loads the wallet pool file, or the sandbox pool when none is set.
func walletPool(path string) ([]models.WalletMapping, error) {
	if path == "" {
		slog.Info("WALLET_POOL_FILE not set, using sandbox wallets")
		return services.SandboxWallets(), nil
	}
	return services.LoadWalletPool(path)
}
