package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/topasig/PolicyBroker/internal/models"
	"github.com/topasig/PolicyBroker/internal/provider/qrpay"
	"github.com/topasig/PolicyBroker/internal/tasks"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Default QR image size in pixels.
const DefaultQRSize = 300

// ErrCallbackUnsupported is returned when the active gateway does not push notifications.
var ErrCallbackUnsupported = errors.New("payment: gateway does not support callbacks")

// ArtifactSaver stores the QR image alongside issued documents.
type ArtifactSaver interface {
	SaveArtifact(ctx context.Context, externalID string, docType models.DocumentType, filename, contentType string, data []byte, meta json.RawMessage) (*models.IssuedDocument, error)
}

// Options tune the service.
type Options struct {
	// Debug schedules an automatic Paid transition for every new token.
	Debug          bool
	DebugPaidDelay time.Duration
}

// Service creates QR payment tokens and keeps their status current.
type Service struct {
	store     *Store
	gateway   qrpay.Gateway
	artifacts ArtifactSaver
	tasks     tasks.Enqueuer
	opts      Options
}

// NewService wires the token store to a gateway. artifacts and enqueuer may be nil.
func NewService(store *Store, gateway qrpay.Gateway, artifacts ArtifactSaver, enqueuer tasks.Enqueuer, opts Options) *Service {
	return &Service{store: store, gateway: gateway, artifacts: artifacts, tasks: enqueuer, opts: opts}
}

// Store returns the underlying token store.
func (s *Service) Store() *Store { return s.store }

// Created is returned to the client after QR creation.
type Created struct {
	QRHeaderUUID    string `json:"qrHeaderUUID"`
	QRExtensionUUID string `json:"qrExtensionUUID,omitempty"`
	QRAsText        string `json:"qrAsText"`
	QRAsImage       string `json:"qrAsImage,omitempty"`
	Status          string `json:"status"`
	OrderID         string `json:"orderId"`
	QRCode          string `json:"qrCode"`
}

// CreateQR asks the gateway for a QR and persists the resulting token.
func (s *Service) CreateQR(ctx context.Context, req qrpay.CreateRequest) (*Created, error) {
	if req.Width <= 0 {
		req.Width = DefaultQRSize
	}
	if req.Height <= 0 {
		req.Height = DefaultQRSize
	}
	if req.OrderID == "" {
		req.OrderID = uuid.NewString()
	}

	resp, errCreate := s.gateway.CreateQR(ctx, req)
	if errCreate != nil {
		return nil, errCreate
	}
	if strings.TrimSpace(resp.QRHeaderUUID) == "" {
		return nil, fmt.Errorf("payment: %s returned no QR identifier", s.gateway.Name())
	}

	status := models.PaymentTokenActive
	if parsed, errParse := qrpay.ParseStatus(resp.Status); errParse == nil {
		status = parsed
	}
	var pmtContext *string
	if req.Header.PmtContext != "" {
		value := req.Header.PmtContext
		pmtContext = &value
	}
	token := &models.PaymentToken{
		UUID:           resp.QRHeaderUUID,
		OrderID:        req.OrderID,
		Kind:           qrpay.KindFromQRType(req.Header.QRType),
		AmountType:     req.Header.AmountType,
		PaymentContext: pmtContext,
		Amount:         req.Extension.Amount.Sum,
		Currency:       req.Extension.Amount.Currency,
		QRAsText:       resp.QRAsText,
		Status:         status,
		Data:           datatypes.JSON(rawOrEmpty(resp.Raw)),
	}
	if errStore := s.store.Create(ctx, nil, token); errStore != nil {
		return nil, errStore
	}

	if resp.QRAsImage != "" && s.artifacts != nil {
		s.storeImage(ctx, token, resp.QRAsImage)
	}
	if s.opts.Debug {
		s.scheduleDebugPayment(ctx, token.UUID)
	}

	return &Created{
		QRHeaderUUID:    resp.QRHeaderUUID,
		QRExtensionUUID: resp.QRExtensionUUID,
		QRAsText:        resp.QRAsText,
		QRAsImage:       resp.QRAsImage,
		Status:          string(token.Status),
		OrderID:         token.OrderID,
		QRCode:          token.UUID,
	}, nil
}

// storeImage saves the QR picture. A failure leaves the token usable.
func (s *Service) storeImage(ctx context.Context, token *models.PaymentToken, encoded string) {
	image, errDecode := base64.StdEncoding.DecodeString(encoded)
	if errDecode != nil {
		log.WithError(errDecode).Warnf("payment: QR %s image is not base64", token.UUID)
		return
	}
	doc, errSave := s.artifacts.SaveArtifact(ctx, token.UUID, models.DocumentTypeQR, token.UUID+".png", "image/png", image, nil)
	if errSave != nil {
		log.WithError(errSave).Warnf("payment: store QR %s image failed", token.UUID)
		return
	}
	if errAttach := s.store.AttachFile(ctx, token.ID, doc.ID); errAttach != nil {
		log.WithError(errAttach).Warnf("payment: link QR %s image failed", token.UUID)
		return
	}
	token.FileID = &doc.ID
}

func (s *Service) scheduleDebugPayment(ctx context.Context, qrUUID string) {
	if s.tasks == nil {
		return
	}
	task, errNew := tasks.New(tasks.TypeMarkPaid, tasks.MarkPaidPayload{UUID: qrUUID}, time.Now().Add(s.opts.DebugPaidDelay))
	if errNew != nil {
		log.WithError(errNew).Warn("payment: build debug payment task failed")
		return
	}
	if _, errEnqueue := s.tasks.Enqueue(ctx, task); errEnqueue != nil {
		log.WithError(errEnqueue).Warnf("payment: schedule debug payment for %s failed", qrUUID)
	}
}

// StatusView is the locally stored state after a refresh.
type StatusView struct {
	UUID      string          `json:"uuid"`
	Status    string          `json:"status"`
	IsUsed    bool            `json:"is_used"`
	PaidAt    *time.Time      `json:"paid_at,omitempty"`
	Result    Result          `json:"result"`
	Gateway   json.RawMessage `json:"gateway,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Refresh polls the gateway for one token and reconciles it.
func (s *Service) Refresh(ctx context.Context, qrUUID string) (*StatusView, error) {
	token, errFind := s.store.FindByUUID(ctx, qrUUID)
	if errFind != nil {
		return nil, errFind
	}
	result, fresh, errReconcile := s.reconcileOne(ctx, token, time.Now())
	if errReconcile != nil {
		return nil, errReconcile
	}
	view := &StatusView{
		UUID:      token.UUID,
		Status:    string(token.Status),
		IsUsed:    token.IsUsed,
		PaidAt:    token.PaidAt,
		Result:    result,
		UpdatedAt: token.UpdatedAt,
	}
	if fresh != nil {
		view.Gateway = fresh.Raw
	}
	return view, nil
}

// ReconcileToken polls the gateway for token and applies the answer. It is used by the background poller.
func (s *Service) ReconcileToken(ctx context.Context, token *models.PaymentToken, now time.Time) (Result, error) {
	result, _, errReconcile := s.reconcileOne(ctx, token, now)
	return result, errReconcile
}

func (s *Service) reconcileOne(ctx context.Context, token *models.PaymentToken, now time.Time) (Result, *qrpay.StatusResponse, error) {
	fresh, errPoll := s.gateway.Status(ctx, token.UUID)
	var status models.PaymentTokenStatus
	if errPoll == nil {
		parsed, errParse := qrpay.ParseStatus(fresh.Status)
		if errParse != nil {
			errPoll = errParse
		}
		status = parsed
	}
	result, errReconcile := s.store.Reconcile(ctx, token, status, errPoll, now)
	return result, fresh, errReconcile
}

// HandleCallback verifies a gateway notification and applies the reported status.
func (s *Service) HandleCallback(ctx context.Context, body []byte) (Result, error) {
	verifier, ok := s.gateway.(qrpay.CallbackVerifier)
	if !ok {
		return ResultFailed, ErrCallbackUnsupported
	}
	event, errVerify := verifier.VerifyCallback(body)
	if errVerify != nil {
		return ResultFailed, errVerify
	}

	token, errFind := s.findForEvent(ctx, event)
	if errFind != nil {
		return ResultFailed, errFind
	}
	return s.store.Reconcile(ctx, token, event.Status, nil, time.Now())
}

func (s *Service) findForEvent(ctx context.Context, event *qrpay.CallbackEvent) (*models.PaymentToken, error) {
	if event.QRID != "" {
		token, errFind := s.store.FindByUUID(ctx, event.QRID)
		if !errors.Is(errFind, ErrTokenNotFound) {
			return token, errFind
		}
	}
	if event.OrderID == "" {
		return nil, ErrTokenNotFound
	}
	var token models.PaymentToken
	errFind := s.store.DB().WithContext(ctx).Where("order_id = ?", event.OrderID).First(&token).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if errFind != nil {
		return nil, fmt.Errorf("payment: find token by order: %w", errFind)
	}
	return &token, nil
}

// MarkPaidTask is the tasks.Handler for debug payment confirmation.
func (s *Service) MarkPaidTask(ctx context.Context, task tasks.Task) error {
	var payload tasks.MarkPaidPayload
	if errDecode := task.Decode(&payload); errDecode != nil {
		return errDecode
	}
	changed, errMark := s.store.MarkPaid(ctx, payload.UUID)
	if errMark != nil {
		return errMark
	}
	if changed {
		log.Infof("payment: debug mode marked %s as paid", payload.UUID)
	}
	return nil
}

func rawOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}
