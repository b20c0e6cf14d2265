// Package orders builds and sends order notifications to the
// order-tracking API.
package orders

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"utmrelay/internal/db"
)

// TimeLayout is the API's timestamp format, always in UTC.
const TimeLayout = "2006-01-02 15:04:05"

const StatusPaid = "paid"

// Order is the body of POST /api-credentials/orders.
type Order struct {
	OrderID            string             `json:"orderId"`
	Platform           string             `json:"platform"`
	PaymentMethod      string             `json:"paymentMethod"`
	Status             string             `json:"status"`
	CreatedAt          string             `json:"createdAt"`
	ApprovedDate       string             `json:"approvedDate"`
	RefundedAt         *string            `json:"refundedAt"`
	Customer           Customer           `json:"customer"`
	Products           []Product          `json:"products"`
	TrackingParameters TrackingParameters `json:"trackingParameters"`
	Commission         Commission         `json:"commission"`
	IsTest             bool               `json:"isTest"`
}

type Customer struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Phone    *string `json:"phone"`
	Document *string `json:"document"`
	Country  string  `json:"country"`
}

type Product struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	PlanID       *string `json:"planId"`
	PlanName     *string `json:"planName"`
	Quantity     int     `json:"quantity"`
	PriceInCents int64   `json:"priceInCents"`
}

type TrackingParameters struct {
	Src         *string `json:"src"`
	Sck         *string `json:"sck"`
	UTMSource   *string `json:"utm_source"`
	UTMCampaign *string `json:"utm_campaign"`
	UTMMedium   *string `json:"utm_medium"`
	UTMContent  *string `json:"utm_content"`
	UTMTerm     *string `json:"utm_term"`
}

type Commission struct {
	TotalPriceInCents     int64 `json:"totalPriceInCents"`
	GatewayFeeInCents     int64 `json:"gatewayFeeInCents"`
	UserCommissionInCents int64 `json:"userCommissionInCents"`
}

// Sale is what NewOrder needs to know about a sale.
type Sale struct {
	OrderID       string
	Platform      string
	PaymentMethod string
	CustomerName  string
	CustomerEmail string
	ProductID     string
	ProductName   string
	Amount        decimal.Decimal
	ApprovedAt    time.Time
	Attribution   db.Attribution
}

// Cents converts a major-unit amount to integer cents, rounding half away
// from zero.
func Cents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// NewOrder builds the paid-order payload for s. The whole amount is
// reported as commission with no gateway fee.
func NewOrder(s Sale) Order {
	cents := Cents(s.Amount)
	at := s.ApprovedAt.UTC().Format(TimeLayout)
	productID := s.ProductID
	if productID == "" {
		productID = "produto-1"
	}

	return Order{
		OrderID:       s.OrderID,
		Platform:      s.Platform,
		PaymentMethod: NormalizePaymentMethod(s.PaymentMethod),
		Status:        StatusPaid,
		CreatedAt:     at,
		ApprovedDate:  at,
		Customer: Customer{
			Name:    s.CustomerName,
			Email:   s.CustomerEmail,
			Country: "BR",
		},
		Products: []Product{{
			ID:           productID,
			Name:         s.ProductName,
			Quantity:     1,
			PriceInCents: cents,
		}},
		TrackingParameters: TrackingParameters{
			UTMSource:   nonEmpty(s.Attribution.UTMSource),
			UTMCampaign: nonEmpty(s.Attribution.UTMCampaign),
			UTMMedium:   nonEmpty(s.Attribution.UTMMedium),
			UTMContent:  nonEmpty(s.Attribution.UTMContent),
			UTMTerm:     nonEmpty(s.Attribution.UTMTerm),
		},
		Commission: Commission{
			TotalPriceInCents:     cents,
			GatewayFeeInCents:     0,
			UserCommissionInCents: cents,
		},
	}
}

// NormalizePaymentMethod maps the free-text method from a notification to
// the API's identifiers. Unrecognised values are lower-cased.
func NormalizePaymentMethod(m string) string {
	v := strings.ToLower(strings.TrimSpace(m))
	switch {
	case strings.Contains(v, "pix"):
		return "pix"
	case strings.Contains(v, "boleto"):
		return "boleto"
	case strings.Contains(v, "cart"), strings.Contains(v, "credit"), strings.Contains(v, "crédito"):
		return "credit_card"
	}
	return v
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
