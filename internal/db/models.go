package db

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SaleRecord is one sale accepted by the ledger. Rows are append-only:
// nothing updates or deletes them once written.
type SaleRecord struct {
	ID uint `gorm:"primaryKey"`

	// IdempotencyKey is unique across all sales. The unique index is what
	// makes concurrent deliveries of the same transaction safe.
	IdempotencyKey string `gorm:"uniqueIndex;size:128;not null"`

	TransactionID *string `gorm:"index;size:128"`

	Amount decimal.Decimal `gorm:"type:numeric(12,2);not null"`

	UTMSource   *string `gorm:"size:255"`
	UTMMedium   *string `gorm:"size:255"`
	UTMCampaign *string `gorm:"size:255"`
	UTMContent  *string `gorm:"size:255"`
	UTMTerm     *string `gorm:"size:255"`

	OrderID string `gorm:"size:128;not null"`

	// NetworkOrigin is the client IP, or a sentinel such as "telegram"
	// when the sale came from the chat feed.
	NetworkOrigin string `gorm:"size:64"`

	// CorrelationTier records which correlation tier supplied the UTMs.
	CorrelationTier string `gorm:"size:16"`

	CreatedAt time.Time `gorm:"index"`
}

// SaleDelivery tracks forwarding of one sale to the order API. It is kept
// apart from SaleRecord so the ledger row never changes.
type SaleDelivery struct {
	ID uint `gorm:"primaryKey"`

	IdempotencyKey string `gorm:"uniqueIndex;size:128;not null"`

	// Payload is the exact order body; retries resend it unchanged.
	Payload datatypes.JSON `gorm:"not null"`

	Attempts   int    `gorm:"not null;default:0"`
	LastStatus int    `gorm:"not null;default:0"`
	LastError  string `gorm:"type:text"`

	// ForwardedAt is set once the order API accepted the payload.
	ForwardedAt *time.Time `gorm:"index"`

	// NextAttemptAt is when the redelivery worker may retry.
	NextAttemptAt time.Time `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AttributionRecord is one click/visit reported by the landing page.
type AttributionRecord struct {
	ID uint `gorm:"primaryKey"`

	// CapturedAtMs is the client-reported capture time, ms since epoch.
	CapturedAtMs int64 `gorm:"index;not null"`

	Amount *decimal.Decimal `gorm:"type:numeric(12,2)"`

	// CorrelationToken is an ad-network click id (fbclid) or a token minted
	// at ingest. Duplicates are tolerated.
	CorrelationToken *string `gorm:"index;size:255"`

	UTMSource   *string `gorm:"size:255"`
	UTMMedium   *string `gorm:"size:255"`
	UTMCampaign *string `gorm:"size:255"`
	UTMContent  *string `gorm:"size:255"`
	UTMTerm     *string `gorm:"size:255"`

	NetworkOrigin *string `gorm:"index;size:64"`

	// ReceivedAt is server receipt time; only retention reads it.
	ReceivedAt time.Time `gorm:"index;not null"`
}

// SenderToken associates a chat sender with the correlation token it
// presented in a /start handshake. The latest handshake wins.
type SenderToken struct {
	SenderID  int64  `gorm:"primaryKey;autoIncrement:false"`
	Token     string `gorm:"size:255;not null"`
	UpdatedAt time.Time
}

// Attribution is the UTM block copied from an AttributionRecord into a sale.
type Attribution struct {
	UTMSource   *string
	UTMMedium   *string
	UTMCampaign *string
	UTMContent  *string
	UTMTerm     *string
}

// Attribution returns the UTM fields of r.
func (r *AttributionRecord) Attribution() Attribution {
	if r == nil {
		return Attribution{}
	}
	return Attribution{
		UTMSource:   r.UTMSource,
		UTMMedium:   r.UTMMedium,
		UTMCampaign: r.UTMCampaign,
		UTMContent:  r.UTMContent,
		UTMTerm:     r.UTMTerm,
	}
}

// Apply copies a into the sale's UTM fields.
func (s *SaleRecord) Apply(a Attribution) {
	s.UTMSource = a.UTMSource
	s.UTMMedium = a.UTMMedium
	s.UTMCampaign = a.UTMCampaign
	s.UTMContent = a.UTMContent
	s.UTMTerm = a.UTMTerm
}

// Apply copies a into the record's UTM fields.
func (r *AttributionRecord) Apply(a Attribution) {
	r.UTMSource = a.UTMSource
	r.UTMMedium = a.UTMMedium
	r.UTMCampaign = a.UTMCampaign
	r.UTMContent = a.UTMContent
	r.UTMTerm = a.UTMTerm
}
