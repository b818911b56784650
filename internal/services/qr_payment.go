package services

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"dinepay/internal/models"
)

// BankAccount is the receiving account encoded into transfer QR codes.
type BankAccount struct {
	BankCode      string
	AccountNumber string
	AccountName   string
}

// QRPaymentGenerator builds VietQR image URLs for bank transfer payments.
// It does no network I/O.
type QRPaymentGenerator struct {
	account   BankAccount
	imageBase string
	minAmount int64
}

// NewQRPaymentGenerator creates a generator. imageBase is the QR rendering
// service prefix, e.g. https://img.vietqr.io/image.
func NewQRPaymentGenerator(account BankAccount, imageBase string, minAmount int64) *QRPaymentGenerator {
	return &QRPaymentGenerator{
		account:   account,
		imageBase: strings.TrimRight(imageBase, "/"),
		minAmount: minAmount,
	}
}

// ReconciliationNote is the transfer note that ties a transfer to an order.
func ReconciliationNote(orderNumber string) string {
	return "DH " + orderNumber
}

// CreateQRPayment returns the QR image URL and display info for an order.
func (g *QRPaymentGenerator) CreateQRPayment(orderNumber string, amountVND int64) models.QRPaymentResult {
	if amountVND < g.minAmount {
		return models.QRPaymentResult{
			Success: false,
			Message: fmt.Sprintf("Minimum amount is %s VND", groupThousands(g.minAmount)),
		}
	}

	note := ReconciliationNote(orderNumber)
	query := url.Values{}
	query.Set("amount", fmt.Sprintf("%d", amountVND))
	query.Set("addInfo", note)
	query.Set("accountName", g.account.AccountName)

	qrURL := fmt.Sprintf("%s/%s-%s-compact.png?%s",
		g.imageBase,
		url.PathEscape(g.account.BankCode),
		url.PathEscape(g.account.AccountNumber),
		query.Encode(),
	)

	slog.Info("bank transfer QR created", "order_number", orderNumber, "amount", amountVND, "bank", g.account.BankCode)

	return models.QRPaymentResult{
		Success: true,
		OrderID: orderNumber,
		BIDV: &models.BankQR{
			QRCodeURL: qrURL,
			DisplayInfo: models.BankQRInfo{
				Method:    g.account.BankCode + " Banking",
				Receiver:  g.account.AccountName,
				AccountNo: g.account.AccountNumber,
				Amount:    amountVND,
				Note:      note,
			},
		},
	}
}

var (
	notedOrderPattern = regexp.MustCompile(`(?i)DH\s*ORD\d+`)
	bareOrderPattern  = regexp.MustCompile(`(?i)ORD\d+`)
	notePrefix        = regexp.MustCompile(`(?i)^DH\s*`)
)

// ExtractOrderNumber finds an order number in a bank transfer note. It
// accepts "DH ORD...", "DHORD..." and a bare "ORD...".
func ExtractOrderNumber(content string) (string, bool) {
	if m := notedOrderPattern.FindString(content); m != "" {
		return strings.ToUpper(notePrefix.ReplaceAllString(m, "")), true
	}
	if m := bareOrderPattern.FindString(content); m != "" {
		return strings.ToUpper(m), true
	}
	return "", false
}

func groupThousands(n int64) string {
	if n < 0 {
		return "-" + groupThousands(-n)
	}
	s := fmt.Sprintf("%d", n)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}
