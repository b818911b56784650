package models

import (
	"math/big"
	"time"
)

// CardInfo is the card data a customer enters at checkout. It is never stored.
type CardInfo struct {
	CardNumber string `json:"card_number"`
	CardHolder string `json:"card_holder"`
	ExpiryDate string `json:"expiry_date"`
	CVV        string `json:"cvv"`
}

// WalletMapping is a pre-provisioned payer account on the ledger.
type WalletMapping struct {
	Address    string `json:"address" yaml:"address"`
	PrivateKey string `json:"-" yaml:"private_key"`
	CardLast4  string `json:"card_last4" yaml:"card_last4"`
}

// PaymentResult is the outcome of a settlement attempt. Failures are
// reported through Success/Error, never as a Go error.
type PaymentResult struct {
	Success         bool     `json:"success"`
	TransactionHash string   `json:"transaction_hash,omitempty"`
	BlockNumber     uint64   `json:"block_number,omitempty"`
	GasUsed         uint64   `json:"gas_used,omitempty"`
	ReceiverBalance *big.Int `json:"receiver_balance,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// SettlementRecord is the ledger's view of a payment for one order.
type SettlementRecord struct {
	Customer     string    `json:"customer"`
	AmountVND    *big.Int  `json:"amount_vnd"`
	AmountNative *big.Int  `json:"amount_native"`
	Timestamp    time.Time `json:"timestamp"`
	Completed    bool      `json:"completed"`
	CardLast4    string    `json:"card_last4"`
}

// BankQRInfo mirrors the fields encoded into a bank transfer QR image.
type BankQRInfo struct {
	Method    string `json:"method"`
	Receiver  string `json:"receiver"`
	AccountNo string `json:"account_no"`
	Amount    int64  `json:"amount"`
	Note      string `json:"note"`
}

// BankQR is a bank transfer payment request.
type BankQR struct {
	QRCodeURL   string     `json:"qr_code_url"`
	DisplayInfo BankQRInfo `json:"display_info"`
}

// QRPaymentResult is returned by the QR payment generator.
type QRPaymentResult struct {
	Success bool    `json:"success"`
	BIDV    *BankQR `json:"bidv,omitempty"`
	Message string  `json:"message,omitempty"`
	OrderID string  `json:"order_id,omitempty"`
}

// BankTransfer is an incoming transfer notification from the bank gateway.
type BankTransfer struct {
	ID              int64  `json:"id"`
	Gateway         string `json:"gateway"`
	TransactionDate string `json:"transactionDate"`
	AccountNumber   string `json:"accountNumber"`
	Content         string `json:"content"`
	TransferType    string `json:"transferType"`
	TransferAmount  int64  `json:"transferAmount"`
	ReferenceCode   string `json:"referenceCode"`
}
