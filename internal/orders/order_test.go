package orders

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utmrelay/internal/db"
)

func strp(s string) *string { return &s }

func TestCents(t *testing.T) {
	tests := map[string]int64{
		"99.90":   9990,
		"1234.56": 123456,
		"0.005":   1,
		"10":      1000,
		"19.999":  2000,
	}
	for in, want := range tests {
		assert.Equal(t, want, Cents(decimal.RequireFromString(in)), in)
	}
}

func TestNewOrderShape(t *testing.T) {
	at := time.Date(2026, 10, 19, 9, 30, 5, 0, time.FixedZone("BRT", -3*60*60))
	order := NewOrder(Sale{
		OrderID:       "pedido-abc123456789",
		Platform:      "PushinPay",
		PaymentMethod: "PIX",
		CustomerName:  "Maria",
		CustomerEmail: "maria@example.com",
		ProductName:   "Acesso VIP",
		Amount:        decimal.RequireFromString("99.90"),
		ApprovedAt:    at,
		Attribution: db.Attribution{
			UTMSource:   strp("fb"),
			UTMCampaign: strp("x"),
			UTMTerm:     strp(""),
		},
	})

	body, err := json.Marshal(order)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"orderId": "pedido-abc123456789",
		"platform": "PushinPay",
		"paymentMethod": "pix",
		"status": "paid",
		"createdAt": "2026-10-19 12:30:05",
		"approvedDate": "2026-10-19 12:30:05",
		"refundedAt": null,
		"customer": {"name": "Maria", "email": "maria@example.com", "phone": null, "document": null, "country": "BR"},
		"products": [{"id": "produto-1", "name": "Acesso VIP", "planId": null, "planName": null, "quantity": 1, "priceInCents": 9990}],
		"trackingParameters": {
			"src": null, "sck": null,
			"utm_source": "fb", "utm_campaign": "x",
			"utm_medium": null, "utm_content": null, "utm_term": null
		},
		"commission": {"totalPriceInCents": 9990, "gatewayFeeInCents": 0, "userCommissionInCents": 9990},
		"isTest": false
	}`, string(body))
}

func TestNormalizePaymentMethod(t *testing.T) {
	assert.Equal(t, "pix", NormalizePaymentMethod(" PIX "))
	assert.Equal(t, "credit_card", NormalizePaymentMethod("Cartão de Crédito"))
	assert.Equal(t, "boleto", NormalizePaymentMethod("Boleto Bancário"))
	assert.Equal(t, "paypal", NormalizePaymentMethod("PayPal"))
}
