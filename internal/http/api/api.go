// Package api mounts the public JSON endpoints.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/topasig/PolicyBroker/internal/http/api/handlers"
)

// Handlers groups the endpoint implementations.
type Handlers struct {
	RCA     *handlers.RCAHandler
	Medical *handlers.MedicalHandler
	QR      *handlers.QRHandler
	Tasks   *handlers.TaskHandler
	Health  *handlers.HealthHandler
}

// RegisterRoutes registers every /api route plus the /healthz check.
// Paths are accepted with or without a trailing slash.
func RegisterRoutes(r *gin.Engine, h Handlers) {
	if r == nil {
		return
	}
	r.RedirectTrailingSlash = false
	group := r.Group("/api")

	if h.RCA != nil {
		rca := group.Group("/rca")
		handle(rca, "POST", "/calculate-rca", h.RCA.CalculateRCA)
		handle(rca, "POST", "/save-rca", h.RCA.SaveRCA)
		handle(rca, "POST", "/calculate-green-card", h.RCA.CalculateGreenCard)
		handle(rca, "POST", "/save-green-card", h.RCA.SaveGreenCard)
		handle(rca, "GET", "/:document_id/get-rca-file", h.RCA.GetFile)
		handle(rca, "POST", "/:document_id/send-file", h.RCA.SendFile)
	}

	if h.Medical != nil {
		medical := group.Group("/medical-insurance")
		handle(medical, "GET", "/medical-insurance-constants", h.Medical.Constants)
		handle(medical, "POST", "/calculate-medical-insurance", h.Medical.Calculate)
		handle(medical, "POST", "/save-medical-insurance", h.Medical.Save)
	}

	if h.QR != nil {
		handle(group, "POST", "/qr", h.QR.Create)
		handle(group, "GET", "/qr/:uuid/status", h.QR.Status)
		handle(group, "POST", "/payment/callback", h.QR.Callback)
	}

	if h.Tasks != nil {
		handle(group, "GET", "/tasks/:id", h.Tasks.Get)
	}

	if h.Health != nil {
		handle(group, "GET", "/health", h.Health.Healthz)
		r.GET("/healthz", h.Health.Healthz)
	}
}

func handle(group *gin.RouterGroup, method, path string, handler gin.HandlerFunc) {
	group.Handle(method, path, handler)
	group.Handle(method, path+"/", handler)
}
