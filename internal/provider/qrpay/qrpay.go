// Package qrpay wraps the bank QR payment gateways behind one interface.
package qrpay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/topasig/PolicyBroker/internal/config"
	"github.com/topasig/PolicyBroker/internal/models"
)

// Gateway creates payment QR codes and reports their status.
type Gateway interface {
	Name() string
	CreateQR(ctx context.Context, req CreateRequest) (*CreateResponse, error)
	Status(ctx context.Context, qrUUID string) (*StatusResponse, error)
	Cancel(ctx context.Context, qrUUID string) error
}

// CallbackVerifier is implemented by gateways that push payment notifications.
type CallbackVerifier interface {
	VerifyCallback(body []byte) (*CallbackEvent, error)
}

// ErrInvalidSignature is returned for callbacks whose signature does not match.
var ErrInvalidSignature = errors.New("qrpay: invalid callback signature")

// Header QR types as sent on the wire.
const (
	QRTypeDynamic = "DYNM"
	QRTypeStatic  = "STAT"
	QRTypeHybrid  = "HYBR"
)

// MoneyDTO is an amount with its currency.
type MoneyDTO struct {
	Sum      decimal.Decimal `json:"sum"`
	Currency string          `json:"currency,omitempty"`
}

// MarshalJSON writes the sum as a JSON number.
func (m MoneyDTO) MarshalJSON() ([]byte, error) {
	type wire struct {
		Sum      json.Number `json:"sum"`
		Currency string      `json:"currency,omitempty"`
	}
	return json.Marshal(wire{Sum: json.Number(m.Sum.String()), Currency: m.Currency})
}

// Header describes the QR kind.
type Header struct {
	QRType     string `json:"qrType" binding:"required,oneof=DYNM STAT HYBR"`
	AmountType string `json:"amountType" binding:"required,oneof=Fixed Controlled Free"`
	PmtContext string `json:"pmtContext,omitempty" binding:"omitempty,oneof=m e i 0"`
}

// CreditorAccount identifies the receiving account.
type CreditorAccount struct {
	IBAN string `json:"iban,omitempty" binding:"omitempty,max=34"`
}

// TTL bounds the QR lifetime.
type TTL struct {
	Length int    `json:"length"`
	Units  string `json:"units,omitempty" binding:"omitempty,oneof=ss mm"`
}

// Extension carries the payable details.
type Extension struct {
	CreditorAccount      CreditorAccount `json:"creditorAccount"`
	Amount               MoneyDTO        `json:"amount"`
	AmountMin            *MoneyDTO       `json:"amountMin,omitempty"`
	AmountMax            *MoneyDTO       `json:"amountMax,omitempty"`
	DBA                  string          `json:"dba,omitempty" binding:"omitempty,min=2,max=25"`
	RemittanceInfo4Payer string          `json:"remittanceInfo4Payer,omitempty" binding:"omitempty,min=2,max=35"`
	CreditorRef          string          `json:"creditorRef,omitempty" binding:"omitempty,min=2,max=35"`
	TTL                  TTL             `json:"ttl"`
}

// CreateRequest is the payee-presented QR request.
type CreateRequest struct {
	Header    Header    `json:"header" binding:"required"`
	Extension Extension `json:"extension" binding:"required"`

	OrderID string `json:"-"`
	Width   int    `json:"-"`
	Height  int    `json:"-"`
}

// CreateResponse is the normalized gateway answer.
type CreateResponse struct {
	QRHeaderUUID    string          `json:"qrHeaderUUID"`
	QRExtensionUUID string          `json:"qrExtensionUUID,omitempty"`
	QRAsText        string          `json:"qrAsText"`
	QRAsImage       string          `json:"qrAsImage,omitempty"`
	Status          string          `json:"status"`
	Raw             json.RawMessage `json:"-"`
}

// StatusResponse is the normalized status answer.
type StatusResponse struct {
	UUID   string          `json:"uuid"`
	Status string          `json:"status"`
	Raw    json.RawMessage `json:"-"`
}

// CallbackEvent is a verified payment notification.
type CallbackEvent struct {
	QRID    string
	OrderID string
	Status  models.PaymentTokenStatus
	Raw     json.RawMessage
}

// KindFromQRType maps the wire header type to the stored token kind.
func KindFromQRType(qrType string) string {
	switch strings.ToUpper(strings.TrimSpace(qrType)) {
	case QRTypeStatic:
		return models.QRKindStatic
	case QRTypeHybrid:
		return models.QRKindHybrid
	default:
		return models.QRKindDynamic
	}
}

// ParseStatus validates a gateway status string.
func ParseStatus(value string) (models.PaymentTokenStatus, error) {
	for _, candidate := range []models.PaymentTokenStatus{
		models.PaymentTokenActive, models.PaymentTokenPaid, models.PaymentTokenExpired,
		models.PaymentTokenCancelled, models.PaymentTokenReplaced, models.PaymentTokenInactive,
	} {
		if strings.EqualFold(string(candidate), strings.TrimSpace(value)) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("qrpay: unknown status %q", value)
}

// New returns the gateway selected by cfg.Provider.
func New(cfg config.QRConfig, publicURL string) (Gateway, error) {
	switch cfg.Provider {
	case "", "victoria":
		return NewVictoria(cfg), nil
	case "maib":
		return NewMAIB(cfg, publicURL), nil
	default:
		return nil, fmt.Errorf("qrpay: unsupported provider %q", cfg.Provider)
	}
}
