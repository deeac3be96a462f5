package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PaymentTokenStatus mirrors the lifecycle reported by the QR payment gateway.
type PaymentTokenStatus string

// PaymentTokenStatus values.
const (
	PaymentTokenActive    PaymentTokenStatus = "Active"
	PaymentTokenPaid      PaymentTokenStatus = "Paid"
	PaymentTokenExpired   PaymentTokenStatus = "Expired"
	PaymentTokenCancelled PaymentTokenStatus = "Cancelled"
	PaymentTokenReplaced  PaymentTokenStatus = "Replaced"
	PaymentTokenInactive  PaymentTokenStatus = "Inactive"
)

// Valid reports whether s is a known status.
func (s PaymentTokenStatus) Valid() bool {
	switch s {
	case PaymentTokenActive, PaymentTokenPaid, PaymentTokenExpired,
		PaymentTokenCancelled, PaymentTokenReplaced, PaymentTokenInactive:
		return true
	default:
		return false
	}
}

// QR kinds and amount types accepted by the payment gateways.
const (
	QRKindDynamic = "Dynamic"
	QRKindStatic  = "Static"
	QRKindHybrid  = "Hybrid"

	AmountTypeFixed      = "Fixed"
	AmountTypeControlled = "Controlled"
	AmountTypeFree       = "Free"
)

// PaymentToken is a payment QR code that authorizes exactly one policy issuance once paid.
type PaymentToken struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UUID    string `gorm:"type:varchar(36);not null;uniqueIndex"` // Gateway QR identifier, exposed to clients.
	OrderID string `gorm:"type:varchar(64);not null;uniqueIndex"` // Order correlation id sent to the gateway.

	Kind           string  `gorm:"type:varchar(10);not null;default:'Dynamic'"` // Dynamic, Static or Hybrid.
	AmountType     string  `gorm:"type:varchar(10);not null;default:'Fixed'"`   // Fixed, Controlled or Free.
	PaymentContext *string `gorm:"type:varchar(1)"`                             // m, e, i or 0.

	Amount   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0"` // Requested amount.
	Currency string          `gorm:"type:varchar(10)"`                      // Requested currency.

	QRAsText string `gorm:"type:text"` // Payment URL encoded in the QR.

	Status PaymentTokenStatus `gorm:"type:varchar(10);not null;default:'Active';index"` // Current gateway status.
	IsUsed bool               `gorm:"not null;default:false"`                          // Consumed by an issuance.
	PaidAt *time.Time         // First time the token was seen as Paid.

	Data datatypes.JSON `gorm:"type:jsonb"` // Raw gateway payloads.

	FileID *uint64         `gorm:"index"`             // QR image artifact.
	File   *IssuedDocument `gorm:"foreignKey:FileID"` // QR image artifact record.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// PaymentDate returns the timestamp used as the policy payment date.
func (t *PaymentToken) PaymentDate() time.Time {
	if t.PaidAt != nil {
		return *t.PaidAt
	}
	return t.UpdatedAt
}
