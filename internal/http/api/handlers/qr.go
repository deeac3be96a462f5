package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/topasig/PolicyBroker/internal/payment"
	"github.com/topasig/PolicyBroker/internal/provider/qrpay"
)

const maxCallbackBytes = 64 << 10

// Payments is the QR payment surface of payment.Service.
type Payments interface {
	CreateQR(ctx context.Context, req qrpay.CreateRequest) (*payment.Created, error)
	Refresh(ctx context.Context, qrUUID string) (*payment.StatusView, error)
	HandleCallback(ctx context.Context, body []byte) (payment.Result, error)
}

// QRHandler serves QR creation, status and gateway callbacks.
type QRHandler struct {
	payments Payments
}

// NewQRHandler constructs a QRHandler.
func NewQRHandler(payments Payments) *QRHandler {
	return &QRHandler{payments: payments}
}

type sizeQuery struct {
	Width  int `form:"width" binding:"min=0"`
	Height int `form:"height" binding:"min=0"`
}

// Create asks the gateway for a payment QR and records the token.
func (h *QRHandler) Create(c *gin.Context) {
	var size sizeQuery
	if errBind := c.ShouldBindQuery(&size); errBind != nil {
		writeBindError(c, errBind)
		return
	}
	var req qrpay.CreateRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		writeBindError(c, errBind)
		return
	}
	req.Width = size.Width
	req.Height = size.Height

	created, errCreate := h.payments.CreateQR(c.Request.Context(), req)
	if errCreate != nil {
		writeError(c, errCreate)
		return
	}
	c.JSON(http.StatusOK, created)
}

// Status polls the gateway and returns the reconciled token.
func (h *QRHandler) Status(c *gin.Context) {
	qrUUID := strings.TrimSpace(c.Param("uuid"))
	view, errRefresh := h.payments.Refresh(c.Request.Context(), qrUUID)
	if errors.Is(errRefresh, payment.ErrTokenNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
		return
	}
	if errRefresh != nil {
		writeError(c, errRefresh)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Callback applies a signed gateway notification.
func (h *QRHandler) Callback(c *gin.Context) {
	body, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBytes))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid body"})
		return
	}
	result, errHandle := h.payments.HandleCallback(c.Request.Context(), body)
	if errHandle != nil {
		if errors.Is(errHandle, payment.ErrTokenNotFound) {
			log.WithError(errHandle).Warn("payment callback for unknown token")
			c.JSON(http.StatusOK, gin.H{"result": payment.ResultFailed})
			return
		}
		writeError(c, errHandle)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}
