package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const checkTimeout = 5 * time.Second

// AccessChecker verifies the RCA service accepts our credentials.
type AccessChecker interface {
	CheckAccess(ctx context.Context) error
}

// HealthHandler serves health check endpoints.
type HealthHandler struct {
	db  *gorm.DB
	rca AccessChecker
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(db *gorm.DB, rca AccessChecker) *HealthHandler {
	return &HealthHandler{db: db, rca: rca}
}

// Healthz reports database and RCA service reachability. Check failures are
// reported per field and never turn into a 5xx.
func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"db":     h.checkDB(ctx),
		"rca":    h.checkRCA(ctx),
	})
}

func (h *HealthHandler) checkDB(ctx context.Context) string {
	if h.db == nil {
		return "error"
	}
	var one int
	if errPing := h.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; errPing != nil || one != 1 {
		log.WithError(errPing).Warn("health: database check failed")
		return "error"
	}
	return "ok"
}

func (h *HealthHandler) checkRCA(ctx context.Context) (state string) {
	if h.rca == nil {
		return "error"
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			log.Errorf("health: rca check panic: %v", recovered)
			state = "error"
		}
	}()
	if errCheck := h.rca.CheckAccess(ctx); errCheck != nil {
		log.WithError(errCheck).Warn("health: rca check failed")
		return "error"
	}
	return "ok"
}
