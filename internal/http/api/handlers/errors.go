package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/topasig/PolicyBroker/internal/documents"
	"github.com/topasig/PolicyBroker/internal/issuance"
	"github.com/topasig/PolicyBroker/internal/mail"
	"github.com/topasig/PolicyBroker/internal/payment"
	"github.com/topasig/PolicyBroker/internal/provider"
	"github.com/topasig/PolicyBroker/internal/provider/qrpay"
)

// writeError maps a service error to its HTTP status and a {"detail"} body.
func writeError(c *gin.Context, err error) {
	var (
		validation *issuance.ValidationError
		business   *provider.BusinessError
		transport  *provider.TransportError
	)
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"detail": validation.Message, "field": validation.Field})
	case errors.Is(err, payment.ErrTokenNotFound), errors.Is(err, payment.ErrAlreadyUsed), errors.Is(err, payment.ErrNotPaid):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error(), "field": "qrCode"})
	case errors.As(err, &business):
		c.JSON(http.StatusBadRequest, gin.H{"detail": business.Detail()})
	case errors.As(err, &transport):
		status := http.StatusBadGateway
		if transport.Timeout {
			status = http.StatusGatewayTimeout
		}
		log.WithError(err).Warn("provider call failed")
		c.JSON(status, gin.H{"detail": "provider unavailable, please retry"})
	case errors.Is(err, documents.ErrUnsupportedContract):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error(), "field": "ContractType"})
	case errors.Is(err, documents.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "File not found."})
	case errors.Is(err, qrpay.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid signature"})
	case errors.Is(err, payment.ErrCallbackUnsupported):
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
	case errors.Is(err, mail.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "email delivery is not configured"})
	default:
		log.WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
	}
}

func writeBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
}
