package services_test

import (
	"net/url"
	"strings"
	"testing"

	"dinepay/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQRGenerator() *services.QRPaymentGenerator {
	return services.NewQRPaymentGenerator(services.BankAccount{
		BankCode:      "BIDV",
		AccountNumber: "96247C3FS8",
		AccountName:   "HUYNH DUC KHOI",
	}, "https://img.vietqr.io/image/", 1000)
}

func TestCreateQRPayment(t *testing.T) {
	gen := newQRGenerator()

	for _, amount := range []int64{1000, 150000, 2500000} {
		res := gen.CreateQRPayment("ORD1700000000000123", amount)
		require.True(t, res.Success)
		require.NotNil(t, res.BIDV)
		assert.Equal(t, "DH ORD1700000000000123", res.BIDV.DisplayInfo.Note)
		assert.Equal(t, amount, res.BIDV.DisplayInfo.Amount)
		assert.Equal(t, "96247C3FS8", res.BIDV.DisplayInfo.AccountNo)
		assert.Equal(t, "HUYNH DUC KHOI", res.BIDV.DisplayInfo.Receiver)

		u, err := url.Parse(res.BIDV.QRCodeURL)
		require.NoError(t, err)
		assert.Equal(t, "img.vietqr.io", u.Host)
		assert.True(t, strings.HasSuffix(u.Path, "/image/BIDV-96247C3FS8-compact.png"))
		assert.Equal(t, "DH ORD1700000000000123", u.Query().Get("addInfo"))
		assert.Equal(t, "HUYNH DUC KHOI", u.Query().Get("accountName"))
	}
}

func TestCreateQRPayment_BelowMinimum(t *testing.T) {
	res := newQRGenerator().CreateQRPayment("ORD1", 999)
	assert.False(t, res.Success)
	assert.Nil(t, res.BIDV)
	assert.Equal(t, "Minimum amount is 1,000 VND", res.Message)
}

func TestExtractOrderNumber(t *testing.T) {
	cases := map[string]string{
		"DH ORD1700000000000123":                 "ORD1700000000000123",
		"chuyen tien dhord1700000000000123 cam on": "ORD1700000000000123",
		"MBVCB.123 ord1700000000000999":          "ORD1700000000000999",
	}
	for content, want := range cases {
		got, ok := services.ExtractOrderNumber(content)
		assert.True(t, ok, content)
		assert.Equal(t, want, got)
	}

	_, ok := services.ExtractOrderNumber("tien an trua")
	assert.False(t, ok)
}
