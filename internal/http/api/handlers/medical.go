package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/topasig/PolicyBroker/internal/issuance"
	"github.com/topasig/PolicyBroker/internal/provider/medical"
)

// MedicalIssuer is the travel medical surface of issuance.Service.
type MedicalIssuer interface {
	CalculateMedical(ctx context.Context, req issuance.CalculateMedicalRequest) ([]medical.Envelope, error)
	SaveMedical(ctx context.Context, req issuance.SaveMedicalRequest) (*issuance.Issued, error)
}

// DirectorySource lists the medical gateway reference data.
type DirectorySource interface {
	AllDirectories(ctx context.Context) map[string]json.RawMessage
}

// MedicalHandler serves the travel medical insurance endpoints.
type MedicalHandler struct {
	issuer      MedicalIssuer
	directories DirectorySource
}

// NewMedicalHandler constructs a MedicalHandler.
func NewMedicalHandler(issuer MedicalIssuer, directories DirectorySource) *MedicalHandler {
	return &MedicalHandler{issuer: issuer, directories: directories}
}

// Constants returns every directory the quote form needs. Failed directories are null.
func (h *MedicalHandler) Constants(c *gin.Context) {
	c.JSON(http.StatusOK, h.directories.AllDirectories(c.Request.Context()))
}

func (h *MedicalHandler) Calculate(c *gin.Context) {
	var req issuance.CalculateMedicalRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		writeBindError(c, errBind)
		return
	}
	quotes, errCalc := h.issuer.CalculateMedical(c.Request.Context(), req)
	if errCalc != nil {
		writeError(c, errCalc)
		return
	}
	c.JSON(http.StatusOK, quotes)
}

func (h *MedicalHandler) Save(c *gin.Context) {
	var req issuance.SaveMedicalRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		writeBindError(c, errBind)
		return
	}
	issued, errSave := h.issuer.SaveMedical(c.Request.Context(), req)
	if errSave != nil {
		writeError(c, errSave)
		return
	}
	c.JSON(http.StatusOK, issued)
}
