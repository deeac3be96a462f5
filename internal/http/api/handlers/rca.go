package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/topasig/PolicyBroker/internal/documents"
	"github.com/topasig/PolicyBroker/internal/issuance"
	"github.com/topasig/PolicyBroker/internal/models"
	"github.com/topasig/PolicyBroker/internal/provider/rca"
)

// Issuer is the RCA and Green Card surface of issuance.Service.
type Issuer interface {
	CalculateRCA(ctx context.Context, req issuance.CalculateRCARequest) (*rca.RCAIQuote, error)
	CalculateGreenCard(ctx context.Context, req issuance.CalculateGreenCardRequest) (*rca.RCAEQuote, error)
	SaveRCA(ctx context.Context, req issuance.SaveRCARequest) (*issuance.Issued, error)
	SaveGreenCard(ctx context.Context, req issuance.SaveGreenCardRequest) (*issuance.Issued, error)
}

// DocumentRetriever returns the merged PDF of an issued policy.
type DocumentRetriever interface {
	Retrieve(ctx context.Context, externalID, contractType string) (*models.IssuedDocument, []byte, error)
}

// Mailer sends a document as an email attachment.
type Mailer interface {
	SendAttachment(ctx context.Context, to, subject, body, filename string, content []byte) error
}

// RCAHandler serves the RCA and Green Card endpoints.
type RCAHandler struct {
	issuer    Issuer
	documents DocumentRetriever
	mailer    Mailer
}

// NewRCAHandler constructs an RCAHandler.
func NewRCAHandler(issuer Issuer, docs DocumentRetriever, mailer Mailer) *RCAHandler {
	return &RCAHandler{issuer: issuer, documents: docs, mailer: mailer}
}

func (h *RCAHandler) CalculateRCA(c *gin.Context) {
	var req issuance.CalculateRCARequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		writeBindError(c, errBind)
		return
	}
	quote, errCalc := h.issuer.CalculateRCA(c.Request.Context(), req)
	if errCalc != nil {
		writeError(c, errCalc)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (h *RCAHandler) CalculateGreenCard(c *gin.Context) {
	var req issuance.CalculateGreenCardRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		writeBindError(c, errBind)
		return
	}
	quote, errCalc := h.issuer.CalculateGreenCard(c.Request.Context(), req)
	if errCalc != nil {
		writeError(c, errCalc)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (h *RCAHandler) SaveRCA(c *gin.Context) {
	var req issuance.SaveRCARequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		writeBindError(c, errBind)
		return
	}
	issued, errSave := h.issuer.SaveRCA(c.Request.Context(), req)
	if errSave != nil {
		writeError(c, errSave)
		return
	}
	c.JSON(http.StatusOK, issued)
}

func (h *RCAHandler) SaveGreenCard(c *gin.Context) {
	var req issuance.SaveGreenCardRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		writeBindError(c, errBind)
		return
	}
	issued, errSave := h.issuer.SaveGreenCard(c.Request.Context(), req)
	if errSave != nil {
		writeError(c, errSave)
		return
	}
	c.JSON(http.StatusOK, issued)
}

type fileQuery struct {
	ContractType string `form:"ContractType" binding:"required,oneof=RCAI CV MEDPH"`
	DocumentType string `form:"DocumentType"`
}

// GetFile streams the merged policy PDF, assembling it on first request.
func (h *RCAHandler) GetFile(c *gin.Context) {
	var query fileQuery
	if errBind := c.ShouldBindQuery(&query); errBind != nil {
		writeBindError(c, errBind)
		return
	}
	documentID := strings.TrimSpace(c.Param("document_id"))
	_, data, errRetrieve := h.documents.Retrieve(c.Request.Context(), documentID, query.ContractType)
	if errRetrieve != nil {
		writeError(c, errRetrieve)
		return
	}
	c.Header("Content-Disposition", `inline; filename="`+documentID+`.pdf"`)
	c.Data(http.StatusOK, documents.PDFContentType, data)
}

type sendFileRequest struct {
	Email        string `json:"email" binding:"required,email"`
	ContractType string `json:"ContractType" binding:"required,oneof=RCAI CV MEDPH"`
}

// SendFile emails the merged policy PDF.
func (h *RCAHandler) SendFile(c *gin.Context) {
	var req sendFileRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		writeBindError(c, errBind)
		return
	}
	documentID := strings.TrimSpace(c.Param("document_id"))
	doc, data, errRetrieve := h.documents.Retrieve(c.Request.Context(), documentID, req.ContractType)
	if errRetrieve != nil {
		log.WithError(errRetrieve).Warnf("send-file: retrieve %s failed", documentID)
		c.JSON(http.StatusNotFound, gin.H{"detail": "File not found."})
		return
	}
	if errSend := h.mailer.SendAttachment(c.Request.Context(), req.Email, "", "", doc.Name, data); errSend != nil {
		writeError(c, errSend)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "File sent successfully."})
}
