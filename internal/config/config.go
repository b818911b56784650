// Package config loads service settings from the environment through viper.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverAppwrite = "appwrite"
)

// Config holds every setting of the service.
type Config struct {
	AppPort string

	StoreDriver string
	DatabaseDSN string
	Appwrite    AppwriteConfig

	RabbitMQURL string

	JWTSecret         string
	WebhookAPIKeyHash string

	Ledger LedgerConfig
	Bank   BankConfig
	Poll   PollConfig
}

// AppwriteConfig locates the orders collection of the document store.
type AppwriteConfig struct {
	Endpoint     string
	ProjectID    string
	DatabaseID   string
	CollectionID string
	APIKey       string
}

// LedgerConfig configures on-chain settlement.
type LedgerConfig struct {
	RPCURL            string
	ContractAddress   string
	PreferredReceiver string
	ExchangeRate      decimal.Decimal
	GasLimit          uint64
	GasPrice          *big.Int
	WalletPoolFile    string
}

// BankConfig is the receiving account for bank transfer payments.
type BankConfig struct {
	Code           string
	AccountNumber  string
	AccountName    string
	QRImageBaseURL string
	QRMinAmount    int64
}

// PollConfig bounds the wait for a bank transfer.
type PollConfig struct {
	MaxAttempts int
	Interval    time.Duration
}

// SetDefaults registers the sandbox defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", ":8080")
	v.SetDefault("STORE_DRIVER", DriverMemory)
	v.SetDefault("DATABASE_DSN", "file:dinepay.db?cache=shared")
	v.SetDefault("APPWRITE_ENDPOINT", "https://cloud.appwrite.io/v1")
	v.SetDefault("APPWRITE_PROJECT_ID", "")
	v.SetDefault("APPWRITE_DATABASE_ID", "")
	v.SetDefault("APPWRITE_ORDERS_COLLECTION", "orders")
	v.SetDefault("APPWRITE_API_KEY", "")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("JWT_SECRET", "dev_jwt_secret")
	v.SetDefault("WEBHOOK_API_KEY_HASH", "")
	v.SetDefault("LEDGER_RPC_URL", "http://127.0.0.1:7545")
	v.SetDefault("CONTRACT_ADDRESS", "0x5FbDB2315678afecb367f032d93F642f64180aa3")
	v.SetDefault("PREFERRED_ADMIN_ADDRESS", "0x323790e8F0C680c9f4f98653F9a91c9662cd067C")
	v.SetDefault("EXCHANGE_RATE", "25000")
	v.SetDefault("GAS_LIMIT", 300000)
	v.SetDefault("GAS_PRICE_WEI", "20000000000")
	v.SetDefault("WALLET_POOL_FILE", "")
	v.SetDefault("BANK_CODE", "BIDV")
	v.SetDefault("BANK_ACCOUNT_NUMBER", "96247C3FS8")
	v.SetDefault("BANK_ACCOUNT_NAME", "HUYNH DUC KHOI")
	v.SetDefault("QR_IMAGE_BASE_URL", "https://img.vietqr.io/image")
	v.SetDefault("QR_MIN_AMOUNT", 1000)
	v.SetDefault("POLL_MAX_ATTEMPTS", 60)
	v.SetDefault("POLL_INTERVAL", "3s")
}

// Load reads the configuration from v after applying defaults and
// environment overrides.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.AutomaticEnv()

	rate, err := decimal.NewFromString(v.GetString("EXCHANGE_RATE"))
	if err != nil || !rate.IsPositive() {
		return nil, fmt.Errorf("EXCHANGE_RATE must be a positive number, got %q", v.GetString("EXCHANGE_RATE"))
	}
	gasPrice, ok := new(big.Int).SetString(v.GetString("GAS_PRICE_WEI"), 10)
	if !ok || gasPrice.Sign() < 0 {
		return nil, fmt.Errorf("GAS_PRICE_WEI must be a non-negative integer, got %q", v.GetString("GAS_PRICE_WEI"))
	}

	cfg := &Config{
		AppPort:     v.GetString("APP_PORT"),
		StoreDriver: strings.ToLower(v.GetString("STORE_DRIVER")),
		DatabaseDSN: v.GetString("DATABASE_DSN"),
		Appwrite: AppwriteConfig{
			Endpoint:     v.GetString("APPWRITE_ENDPOINT"),
			ProjectID:    v.GetString("APPWRITE_PROJECT_ID"),
			DatabaseID:   v.GetString("APPWRITE_DATABASE_ID"),
			CollectionID: v.GetString("APPWRITE_ORDERS_COLLECTION"),
			APIKey:       v.GetString("APPWRITE_API_KEY"),
		},
		RabbitMQURL:       v.GetString("RABBITMQ_URL"),
		JWTSecret:         v.GetString("JWT_SECRET"),
		WebhookAPIKeyHash: v.GetString("WEBHOOK_API_KEY_HASH"),
		Ledger: LedgerConfig{
			RPCURL:            v.GetString("LEDGER_RPC_URL"),
			ContractAddress:   v.GetString("CONTRACT_ADDRESS"),
			PreferredReceiver: v.GetString("PREFERRED_ADMIN_ADDRESS"),
			ExchangeRate:      rate,
			GasLimit:          v.GetUint64("GAS_LIMIT"),
			GasPrice:          gasPrice,
			WalletPoolFile:    v.GetString("WALLET_POOL_FILE"),
		},
		Bank: BankConfig{
			Code:           v.GetString("BANK_CODE"),
			AccountNumber:  v.GetString("BANK_ACCOUNT_NUMBER"),
			AccountName:    v.GetString("BANK_ACCOUNT_NAME"),
			QRImageBaseURL: v.GetString("QR_IMAGE_BASE_URL"),
			QRMinAmount:    v.GetInt64("QR_MIN_AMOUNT"),
		},
		Poll: PollConfig{
			MaxAttempts: v.GetInt("POLL_MAX_ATTEMPTS"),
			Interval:    v.GetDuration("POLL_INTERVAL"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	case DriverAppwrite:
		if c.Appwrite.ProjectID == "" || c.Appwrite.DatabaseID == "" {
			return fmt.Errorf("STORE_DRIVER=appwrite needs APPWRITE_PROJECT_ID and APPWRITE_DATABASE_ID")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.Poll.MaxAttempts <= 0 || c.Poll.Interval <= 0 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS and POLL_INTERVAL must be positive")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}
