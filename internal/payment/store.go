// Package payment owns payment tokens: the QR claim checks that gate policy issuance.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/topasig/PolicyBroker/internal/db"
	"github.com/topasig/PolicyBroker/internal/models"
	"github.com/topasig/PolicyBroker/internal/settings"
	"gorm.io/gorm"
)

// Token consumption errors.
var (
	ErrTokenNotFound = errors.New("payment token not found")
	ErrAlreadyUsed   = errors.New("payment token already used")
	ErrNotPaid       = errors.New("payment token is not paid")
)

// Result classifies one reconciliation.
type Result string

// Result values.
const (
	ResultUpdated    Result = "updated"
	ResultNotChanged Result = "not_changed"
	ResultFailed     Result = "failed"
)

// Store persists payment tokens.
type Store struct {
	db            *gorm.DB
	defaultExpiry time.Duration
	now           func() time.Time
}

// NewStore returns a token store. defaultExpiry applies unless overridden by the QR_EXPIRY_MINUTES setting.
func NewStore(conn *gorm.DB, defaultExpiry time.Duration) *Store {
	if defaultExpiry <= 0 {
		defaultExpiry = 15 * time.Minute
	}
	return &Store{db: conn, defaultExpiry: defaultExpiry, now: time.Now}
}

// DB exposes the connection for callers that open their own transactions.
func (s *Store) DB() *gorm.DB { return s.db }

// ExpiryWindow is the age after which an unconfirmed token expires.
func (s *Store) ExpiryWindow() time.Duration {
	return settings.Duration(settings.QRExpiryMinutesKey, time.Minute, s.defaultExpiry)
}

// Create inserts token using tx, or the store connection when tx is nil.
func (s *Store) Create(ctx context.Context, tx *gorm.DB, token *models.PaymentToken) error {
	if tx == nil {
		tx = s.db
	}
	if token.Status == "" {
		token.Status = models.PaymentTokenActive
	}
	if errCreate := tx.WithContext(ctx).Create(token).Error; errCreate != nil {
		return fmt.Errorf("payment: create token: %w", errCreate)
	}
	return nil
}

// FindByUUID loads a token by its public identifier.
func (s *Store) FindByUUID(ctx context.Context, uuid string) (*models.PaymentToken, error) {
	var token models.PaymentToken
	errFind := s.db.WithContext(ctx).Where("uuid = ?", uuid).First(&token).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if errFind != nil {
		return nil, fmt.Errorf("payment: find token: %w", errFind)
	}
	return &token, nil
}

// ListActive returns tokens still waiting for payment confirmation.
func (s *Store) ListActive(ctx context.Context) ([]models.PaymentToken, error) {
	var tokens []models.PaymentToken
	if errFind := s.db.WithContext(ctx).
		Where("status = ?", models.PaymentTokenActive).
		Order("id ASC").
		Find(&tokens).Error; errFind != nil {
		return nil, fmt.Errorf("payment: list active tokens: %w", errFind)
	}
	return tokens, nil
}

// AttachFile links the QR image artifact to the token.
func (s *Store) AttachFile(ctx context.Context, tokenID, fileID uint64) error {
	return s.db.WithContext(ctx).Model(&models.PaymentToken{}).Where("id = ?", tokenID).Update("file_id", fileID).Error
}

// Consume marks the token used inside tx and returns it with its payment date.
// The caller's transaction must also perform the dependent provider submission
// so a failed submission rolls the consumption back.
func (s *Store) Consume(tx *gorm.DB, uuid string) (*models.PaymentToken, time.Time, error) {
	var token models.PaymentToken
	errFind := db.ForUpdate(tx).Where("uuid = ?", uuid).First(&token).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, time.Time{}, ErrTokenNotFound
	}
	if errFind != nil {
		return nil, time.Time{}, fmt.Errorf("payment: load token: %w", errFind)
	}
	if token.IsUsed {
		return nil, time.Time{}, ErrAlreadyUsed
	}
	if token.Status != models.PaymentTokenPaid {
		return nil, time.Time{}, ErrNotPaid
	}
	paymentDate := token.PaymentDate()

	res := tx.Model(&models.PaymentToken{}).
		Where("id = ? AND is_used = ? AND status = ?", token.ID, false, models.PaymentTokenPaid).
		Update("is_used", true)
	if res.Error != nil {
		return nil, time.Time{}, fmt.Errorf("payment: consume token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, time.Time{}, ErrAlreadyUsed
	}
	token.IsUsed = true
	return &token, paymentDate, nil
}

// Reconcile applies a freshly polled status to token.
//
// A status that differs from the stored one is written once. Tokens still
// Active past the expiry window are forced to Expired even when the poll
// failed or reported no change. A token never goes back to Active.
func (s *Store) Reconcile(ctx context.Context, token *models.PaymentToken, fresh models.PaymentTokenStatus, pollErr error, now time.Time) (Result, error) {
	expired := token.Status == models.PaymentTokenActive && now.Sub(token.CreatedAt) > s.ExpiryWindow()

	if pollErr == nil && !fresh.Valid() {
		pollErr = fmt.Errorf("payment: unknown gateway status %q", fresh)
	}
	if pollErr != nil {
		if expired {
			if _, errWrite := s.transition(ctx, token, models.PaymentTokenExpired, now); errWrite != nil {
				return ResultFailed, errWrite
			}
		}
		return ResultFailed, pollErr
	}

	if fresh == models.PaymentTokenActive {
		fresh = token.Status
	}
	if fresh != token.Status {
		changed, errWrite := s.transition(ctx, token, fresh, now)
		if errWrite != nil {
			return ResultFailed, errWrite
		}
		if changed {
			return ResultUpdated, nil
		}
		return ResultNotChanged, nil
	}
	if expired {
		changed, errWrite := s.transition(ctx, token, models.PaymentTokenExpired, now)
		if errWrite != nil {
			return ResultFailed, errWrite
		}
		if changed {
			return ResultUpdated, nil
		}
	}
	return ResultNotChanged, nil
}

// MarkPaid moves the token to Paid unless it already is. It reports whether a write happened.
func (s *Store) MarkPaid(ctx context.Context, uuid string) (bool, error) {
	token, errFind := s.FindByUUID(ctx, uuid)
	if errFind != nil {
		return false, errFind
	}
	if token.Status == models.PaymentTokenPaid {
		return false, nil
	}
	return s.transition(ctx, token, models.PaymentTokenPaid, s.now())
}

// transition writes next only if the row still holds the status token was read with.
func (s *Store) transition(ctx context.Context, token *models.PaymentToken, next models.PaymentTokenStatus, now time.Time) (bool, error) {
	updates := map[string]any{"status": next}
	if next == models.PaymentTokenPaid && token.PaidAt == nil {
		paidAt := now.UTC()
		updates["paid_at"] = paidAt
	}
	res := s.db.WithContext(ctx).Model(&models.PaymentToken{}).
		Where("id = ? AND status = ?", token.ID, token.Status).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("payment: update token %s: %w", token.UUID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	token.Status = next
	if paidAt, ok := updates["paid_at"].(time.Time); ok {
		token.PaidAt = &paidAt
	}
	return true, nil
}
