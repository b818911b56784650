// Package ledger talks to the payment contract over Ethereum JSON-RPC.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// PaymentContractABI is the interface of the deployed payment contract.
const PaymentContractABI = `[
  {"type":"function","name":"processPayment","stateMutability":"payable",
   "inputs":[{"name":"orderRef","type":"string"},{"name":"amountVND","type":"uint256"},{"name":"cardSuffix","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"owner","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"getTransaction","stateMutability":"view",
   "inputs":[{"name":"orderRef","type":"string"}],
   "outputs":[{"name":"customer","type":"address"},{"name":"amountVND","type":"uint256"},{"name":"amountETH","type":"uint256"},
              {"name":"timestamp","type":"uint256"},{"name":"completed","type":"bool"},{"name":"cardLast4","type":"string"}]}
]`

// ErrReverted is returned when a payment transaction is mined but failed.
var ErrReverted = errors.New("transaction reverted")

// PaymentTx is a processPayment call signed by the payer wallet.
type PaymentTx struct {
	From       common.Address
	PrivateKey string
	Value      *big.Int
	OrderRef   string
	AmountVND  *big.Int
	CardSuffix string
	GasLimit   uint64
	GasPrice   *big.Int
}

// Receipt summarises a mined payment transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
}

// PaymentRecord is the contract's stored view of a payment.
type PaymentRecord struct {
	Customer  common.Address
	AmountVND *big.Int
	AmountWei *big.Int
	Timestamp time.Time
	Completed bool
	CardLast4 string
}

// Client wraps an RPC connection and the bound payment contract.
type Client struct {
	raw      *rpc.Client
	eth      *ethclient.Client
	contract *bind.BoundContract
	address  common.Address
}

// Dial prepares a client for the node at rpcURL. For HTTP endpoints no
// connection is made until the first call.
func Dial(ctx context.Context, rpcURL, contractAddress string) (*Client, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(PaymentContractABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}
	raw, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ledger %s: %w", rpcURL, err)
	}
	eth := ethclient.NewClient(raw)
	address := common.HexToAddress(contractAddress)

	return &Client{
		raw:      raw,
		eth:      eth,
		contract: bind.NewBoundContract(address, parsed, eth, eth, eth),
		address:  address,
	}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// ContractAddress returns the payment contract address.
func (c *Client) ContractAddress() common.Address {
	return c.address
}

// IsListening reports whether the node is accepting connections.
func (c *Client) IsListening(ctx context.Context) (bool, error) {
	var listening bool
	if err := c.raw.CallContext(ctx, &listening, "net_listening"); err != nil {
		return false, fmt.Errorf("net_listening: %w", err)
	}
	return listening, nil
}

// Accounts lists the accounts managed by the node.
func (c *Client) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := c.raw.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, fmt.Errorf("eth_accounts: %w", err)
	}
	return accounts, nil
}

// BalanceAt returns the latest balance of account in wei.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.eth.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", account.Hex(), err)
	}
	return balance, nil
}

// Owner calls the contract's owner() view.
func (c *Client) Owner(ctx context.Context) (common.Address, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "owner"); err != nil {
		return common.Address{}, fmt.Errorf("owner(): %w", err)
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// SendPayment signs and submits processPayment, then waits for the receipt.
func (c *Client) SendPayment(ctx context.Context, p PaymentTx) (*Receipt, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(p.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid wallet key: %w", err)
	}
	if signer := crypto.PubkeyToAddress(key.PublicKey); signer != p.From {
		return nil, fmt.Errorf("wallet key belongs to %s, not %s", signer.Hex(), p.From.Hex())
	}

	chainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx
	opts.Value = p.Value
	opts.GasLimit = p.GasLimit
	opts.GasPrice = p.GasPrice

	tx, err := c.contract.Transact(opts, "processPayment", p.OrderRef, p.AmountVND, p.CardSuffix)
	if err != nil {
		return nil, fmt.Errorf("processPayment: %w", err)
	}
	slog.Info("payment transaction broadcast", "tx", tx.Hash().Hex(), "order_ref", p.OrderRef)

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}

	return &Receipt{
		TxHash:      tx.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}, nil
}

// Transaction reads the stored payment for orderRef.
func (c *Client) Transaction(ctx context.Context, orderRef string) (*PaymentRecord, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getTransaction", orderRef); err != nil {
		return nil, fmt.Errorf("getTransaction(%s): %w", orderRef, err)
	}
	if len(out) != 6 {
		return nil, fmt.Errorf("getTransaction(%s): unexpected %d outputs", orderRef, len(out))
	}

	timestamp := *abi.ConvertType(out[3], new(*big.Int)).(**big.Int)
	return &PaymentRecord{
		Customer:  *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		AmountVND: *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		AmountWei: *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
		Timestamp: time.Unix(timestamp.Int64(), 0).UTC(),
		Completed: *abi.ConvertType(out[4], new(bool)).(*bool),
		CardLast4: *abi.ConvertType(out[5], new(string)).(*string),
	}, nil
}
