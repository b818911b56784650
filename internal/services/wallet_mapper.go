package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"unicode"

	"dinepay/internal/models"

	"gopkg.in/yaml.v3"
)

var expiryPattern = regexp.MustCompile(`^\d{2}/\d{2}$`)

// sandboxWallets are the funded accounts of the local development chain.
var sandboxWallets = []models.WalletMapping{
	{Address: "0xA4b2a71b57f1E8022F40A0f903e3B3E0f9752Dd7", PrivateKey: "0x145548605b5e7dddd8f6ce27d2f27c1cff21856edd51b5a6793697f1b8a49789", CardLast4: "1234"},
	{Address: "0xc59AABBF2b5d8f608DBD12247F43520D5411f5d7", PrivateKey: "0x1f5cf0f91cd80dd6cc0bcf0392f03dacfdeb800522f2f56c6a621b0b90b2aff2", CardLast4: "5678"},
	{Address: "0x764D59C961DEef9691AAc51f63580f821770DccB", PrivateKey: "0xb738a6ec563112a497ca1779e5002d85af1722f0916748b96fd46d6298b38ad7", CardLast4: "9012"},
	{Address: "0x4CAE569305290a479651d6072785d757dc9aB5CF", PrivateKey: "0xa0e508a92a1921c3118b9bdf4bd62da021ec8613904c23aad6aad670b8383569", CardLast4: "3456"},
	{Address: "0xb743dA6d056e0Bb2c3dC0c03B7Bb6456F936aC12", PrivateKey: "0x4af9d158e2c29c159cddc702180d32f3785370afa3e1f2eeb9578ec9701fb594", CardLast4: "7890"},
}

// SandboxWallets returns a copy of the built-in wallet pool.
func SandboxWallets() []models.WalletMapping {
	out := make([]models.WalletMapping, len(sandboxWallets))
	copy(out, sandboxWallets)
	return out
}

type walletPoolFile struct {
	Wallets []models.WalletMapping `yaml:"wallets"`
}

// ParseWalletPoolYAML decodes a wallet pool definition.
func ParseWalletPoolYAML(data []byte) ([]models.WalletMapping, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("wallet pool: payload is empty")
	}
	var file walletPoolFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("wallet pool: decode: %w", err)
	}
	if len(file.Wallets) == 0 {
		return nil, errors.New("wallet pool: no wallets defined")
	}
	for i, w := range file.Wallets {
		if strings.TrimSpace(w.Address) == "" || strings.TrimSpace(w.PrivateKey) == "" {
			return nil, fmt.Errorf("wallet pool: wallet %d needs address and private_key", i)
		}
	}
	return file.Wallets, nil
}

// LoadWalletPool reads a wallet pool from a YAML file.
func LoadWalletPool(path string) ([]models.WalletMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wallet pool: read %s: %w", path, err)
	}
	return ParseWalletPoolYAML(data)
}

// WalletMapper resolves a presented card to one wallet of a fixed pool.
// The same card number always resolves to the same wallet, which stands in
// for card-network tokenization in the sandbox.
type WalletMapper struct {
	pool []models.WalletMapping
}

// NewWalletMapper creates a mapper over pool. The pool must not be empty.
func NewWalletMapper(pool []models.WalletMapping) (*WalletMapper, error) {
	if len(pool) == 0 {
		return nil, errors.New("wallet pool is empty")
	}
	owned := make([]models.WalletMapping, len(pool))
	copy(owned, pool)
	return &WalletMapper{pool: owned}, nil
}

// PoolSize returns the number of wallets.
func (m *WalletMapper) PoolSize() int {
	return len(m.pool)
}

// ValidateCard checks the card fields in order and reports the first failure.
func ValidateCard(card models.CardInfo) error {
	number := NormalizeCardNumber(card.CardNumber)
	if len(number) < 13 || len(number) > 19 || strings.IndexFunc(number, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0 {
		return fmt.Errorf("%w: invalid card number length", ErrInvalidCard)
	}
	if strings.TrimSpace(card.CardHolder) == "" {
		return fmt.Errorf("%w: card holder name required", ErrInvalidCard)
	}
	if !expiryPattern.MatchString(card.ExpiryDate) {
		return fmt.Errorf("%w: invalid expiry date format (MM/YY)", ErrInvalidCard)
	}
	if len(card.CVV) < 3 {
		return fmt.Errorf("%w: invalid CVV", ErrInvalidCard)
	}
	return nil
}

// MapCardToWallet validates the card and returns its wallet.
func (m *WalletMapper) MapCardToWallet(card models.CardInfo) (*models.WalletMapping, error) {
	if err := ValidateCard(card); err != nil {
		slog.Warn("card mapping failed", "card", MaskCard(card.CardNumber), "error", err)
		return nil, err
	}
	wallet := m.pool[m.WalletIndex(card.CardNumber)]
	slog.Info("card mapped to wallet", "card", MaskCard(card.CardNumber), "wallet", wallet.Address)
	return &wallet, nil
}

// WalletIndex hashes the normalized card number with SHA-256 and reduces the
// first 32 bits modulo the pool size.
func (m *WalletMapper) WalletIndex(cardNumber string) int {
	sum := sha256.Sum256([]byte(NormalizeCardNumber(cardNumber)))
	return int(binary.BigEndian.Uint32(sum[:4]) % uint32(len(m.pool)))
}

// NormalizeCardNumber strips all whitespace.
func NormalizeCardNumber(number string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, number)
}

// CardLast4 returns the last four characters of the normalized number.
func CardLast4(number string) string {
	n := NormalizeCardNumber(number)
	if len(n) <= 4 {
		return n
	}
	return n[len(n)-4:]
}

// MaskCard formats a card number for display and logs.
func MaskCard(number string) string {
	return "**** **** **** " + CardLast4(number)
}
