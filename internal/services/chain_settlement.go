package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"dinepay/internal/models"
	"dinepay/pkg/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Ledger is the subset of the ledger client used for settlement.
type Ledger interface {
	IsListening(ctx context.Context) (bool, error)
	Accounts(ctx context.Context) ([]common.Address, error)
	Owner(ctx context.Context) (common.Address, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	SendPayment(ctx context.Context, tx ledger.PaymentTx) (*ledger.Receipt, error)
	Transaction(ctx context.Context, orderRef string) (*ledger.PaymentRecord, error)
}

// Settler authorizes a card payment for an order. Implementations report
// every failure in the result instead of returning an error, and never retry.
type Settler interface {
	ProcessPayment(ctx context.Context, orderNumber string, amountVND int64, card models.CardInfo) models.PaymentResult
}

// ChainSettlementConfig holds the constants of on-chain settlement.
type ChainSettlementConfig struct {
	// ExchangeRate is the VND price of one native unit (1 ether).
	ExchangeRate decimal.Decimal
	GasLimit     uint64
	GasPrice     *big.Int
	// PreferredReceiver is used when the node manages it and the contract
	// owner cannot be read.
	PreferredReceiver string
}

// DefaultChainSettlementConfig matches the local development chain.
func DefaultChainSettlementConfig() ChainSettlementConfig {
	return ChainSettlementConfig{
		ExchangeRate:      decimal.NewFromInt(25000),
		GasLimit:          300000,
		GasPrice:          big.NewInt(20_000_000_000),
		PreferredReceiver: "0x323790e8F0C680c9f4f98653F9a91c9662cd067C",
	}
}

const (
	msgInvalidCard         = "Invalid card information"
	msgInsufficientBalance = "Insufficient balance in wallet"
)

var weiPerUnit = decimal.New(1, 18)

// ChainSettlement pays orders through the payment contract using the wallet
// mapped from the presented card.
type ChainSettlement struct {
	ledger  Ledger
	wallets *WalletMapper
	cfg     ChainSettlementConfig

	mu          sync.Mutex
	initialized bool
	receiver    common.Address
}

// NewChainSettlement creates a settlement client. Call Initialize once at
// startup; ProcessPayment initializes lazily otherwise.
func NewChainSettlement(l Ledger, wallets *WalletMapper, cfg ChainSettlementConfig) *ChainSettlement {
	if cfg.ExchangeRate.Sign() <= 0 {
		cfg.ExchangeRate = DefaultChainSettlementConfig().ExchangeRate
	}
	return &ChainSettlement{
		ledger:  l,
		wallets: wallets,
		cfg:     cfg,
	}
}

// Initialize checks the node, enumerates its accounts and resolves the
// receiving account. The contract owner, when readable, always wins over the
// configured receiver. A successful run is memoized; a failed one is not.
func (s *ChainSettlement) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	listening, err := s.ledger.IsListening(ctx)
	if err != nil {
		return fmt.Errorf("cannot connect to ledger: %w", err)
	}
	if !listening {
		return errors.New("cannot connect to ledger: node is not listening")
	}

	accounts, err := s.ledger.Accounts(ctx)
	if err != nil {
		return fmt.Errorf("cannot list ledger accounts: %w", err)
	}

	preferred := common.HexToAddress(s.cfg.PreferredReceiver)
	receiver := preferred
	switch {
	case containsAddress(accounts, preferred):
	case len(accounts) > 0:
		receiver = accounts[0]
		slog.Warn("preferred receiver not managed by node, using first account", "receiver", receiver.Hex())
	default:
		slog.Warn("ledger reports no accounts")
	}

	owner, err := s.ledger.Owner(ctx)
	if err != nil {
		slog.Error("could not read contract owner", "error", err)
	} else if owner != (common.Address{}) {
		receiver = owner
	}

	s.receiver = receiver
	s.initialized = true
	slog.Info("settlement client initialized", "receiver", receiver.Hex(), "accounts", len(accounts))
	return nil
}

// Receiver returns the resolved receiving account.
func (s *ChainSettlement) Receiver() common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receiver
}

// ToNativeUnits converts a VND amount to wei at the configured rate,
// truncating only below one wei.
func (s *ChainSettlement) ToNativeUnits(amountVND int64) *big.Int {
	return decimal.NewFromInt(amountVND).Mul(weiPerUnit).Div(s.cfg.ExchangeRate).Truncate(0).BigInt()
}

// ProcessPayment settles amountVND for the order from the card's wallet.
func (s *ChainSettlement) ProcessPayment(ctx context.Context, orderNumber string, amountVND int64, card models.CardInfo) models.PaymentResult {
	if err := s.Initialize(ctx); err != nil {
		slog.Error("settlement unavailable", "order_number", orderNumber, "error", err)
		return failedPayment(err.Error())
	}

	wallet, err := s.wallets.MapCardToWallet(card)
	if err != nil {
		return failedPayment(msgInvalidCard)
	}

	from := common.HexToAddress(wallet.Address)
	required := s.ToNativeUnits(amountVND)
	slog.Info("processing card payment",
		"order_number", orderNumber, "amount_vnd", amountVND, "amount_wei", required.String(), "wallet", from.Hex())

	balance, err := s.ledger.BalanceAt(ctx, from)
	if err != nil {
		return failedPayment(err.Error())
	}
	if balance.Cmp(required) < 0 {
		slog.Warn("wallet balance too low", "wallet", from.Hex(), "balance", balance.String(), "required", required.String())
		return failedPayment(msgInsufficientBalance)
	}

	receipt, err := s.ledger.SendPayment(ctx, ledger.PaymentTx{
		From:       from,
		PrivateKey: wallet.PrivateKey,
		Value:      required,
		OrderRef:   orderNumber,
		AmountVND:  big.NewInt(amountVND),
		CardSuffix: CardLast4(card.CardNumber),
		GasLimit:   s.cfg.GasLimit,
		GasPrice:   s.cfg.GasPrice,
	})
	if err != nil {
		slog.Error("payment transaction failed", "order_number", orderNumber, "error", err)
		return failedPayment(err.Error())
	}

	result := models.PaymentResult{
		Success:         true,
		TransactionHash: receipt.TxHash,
		BlockNumber:     receipt.BlockNumber,
		GasUsed:         receipt.GasUsed,
	}
	receiver := s.Receiver()
	if receiverBalance, err := s.ledger.BalanceAt(ctx, receiver); err != nil {
		slog.Warn("could not read receiver balance", "receiver", receiver.Hex(), "error", err)
	} else {
		result.ReceiverBalance = receiverBalance
	}

	slog.Info("card payment settled",
		"order_number", orderNumber, "tx", receipt.TxHash, "block", receipt.BlockNumber, "gas_used", receipt.GasUsed,
		"receiver_balance", result.ReceiverBalance)
	return result
}

// GetTransaction reads the ledger's record of an order's payment.
func (s *ChainSettlement) GetTransaction(ctx context.Context, orderNumber string) (*models.SettlementRecord, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	rec, err := s.ledger.Transaction(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	return &models.SettlementRecord{
		Customer:     rec.Customer.Hex(),
		AmountVND:    rec.AmountVND,
		AmountNative: rec.AmountWei,
		Timestamp:    rec.Timestamp,
		Completed:    rec.Completed,
		CardLast4:    rec.CardLast4,
	}, nil
}

func failedPayment(msg string) models.PaymentResult {
	return models.PaymentResult{Success: false, Error: msg}
}

func containsAddress(list []common.Address, addr common.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}
