// Package issuance turns paid quotes into issued policies.
package issuance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/topasig/PolicyBroker/internal/directory"
	"github.com/topasig/PolicyBroker/internal/models"
	"github.com/topasig/PolicyBroker/internal/payment"
	"github.com/topasig/PolicyBroker/internal/provider"
	"github.com/topasig/PolicyBroker/internal/provider/medical"
	"github.com/topasig/PolicyBroker/internal/provider/rca"
	"github.com/topasig/PolicyBroker/internal/tasks"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RCAProvider is the part of the RCA export service used for quoting and issuing.
type RCAProvider interface {
	CalculateRCAI(ctx context.Context, in rca.RCAIInput) (*rca.RCAIQuote, error)
	CalculateRCAE(ctx context.Context, in rca.RCAEInput) (*rca.RCAEQuote, error)
	SaveRCADocument(ctx context.Context, doc rca.RCADocument) provider.Outcome
	SaveGreenCardDocument(ctx context.Context, doc rca.GreenCardDocument) provider.Outcome
}

// MedicalProvider is the part of the medical gateway used for quoting and issuing.
type MedicalProvider interface {
	CalculateTariff(ctx context.Context, req medical.Envelope) (*medical.Envelope, error)
	CreateContract(ctx context.Context, req medical.Envelope) provider.Outcome
}

// Issued is returned once a provider accepted a policy.
type Issued struct {
	DocumentID string `json:"DocumentId"`
	URL        string `json:"url"`
	TaskID     string `json:"task_id,omitempty"`
}

// Service runs quotes and the consume, submit and record sequence of an issuance.
type Service struct {
	db        *gorm.DB
	tokens    *payment.Store
	rca       RCAProvider
	medical   MedicalProvider
	directory *directory.Directory
	tasks     tasks.Enqueuer
	publicURL string
	now       func() time.Time
}

// NewService wires the issuance workflow. enqueuer may be nil, in which case retrieval waits for the first download.
func NewService(conn *gorm.DB, tokens *payment.Store, rcaClient RCAProvider, medicalClient MedicalProvider, dir *directory.Directory, enqueuer tasks.Enqueuer, publicURL string) *Service {
	return &Service{
		db:        conn,
		tokens:    tokens,
		rca:       rcaClient,
		medical:   medicalClient,
		directory: dir,
		tasks:     enqueuer,
		publicURL: publicURL,
		now:       time.Now,
	}
}

// CalculateRCA quotes a domestic RCA policy and decorates the insurer lines.
func (s *Service) CalculateRCA(ctx context.Context, req CalculateRCARequest) (*rca.RCAIQuote, error) {
	if !req.OperatingModes.Valid() {
		return nil, invalid("OperatingModes", "unknown operating mode %d", int(req.OperatingModes))
	}
	quote, errQuote := s.rca.CalculateRCAI(ctx, rca.RCAIInput{
		OperatingModes:                       req.OperatingModes,
		PersonIsJuridical:                    req.PersonIsJuridical,
		IDNX:                                 req.IDNX,
		VehicleRegistrationCertificateNumber: req.VehicleRegistrationCertificateNumber,
		Territory:                            req.Territory,
	})
	if errQuote != nil {
		return nil, errQuote
	}
	if !quote.IsSuccess {
		return nil, &provider.BusinessError{Provider: rca.ProviderName, Op: "CalculateRCAIPremium", Message: quote.Message()}
	}
	lines, errEnrich := s.directory.EnrichRCALines(ctx, quote.InsurersPrime.Lines)
	if errEnrich != nil {
		return nil, errEnrich
	}
	quote.InsurersPrime.Lines = lines
	return quote, nil
}

// CalculateGreenCard quotes a Green Card policy and decorates the insurer lines.
func (s *Service) CalculateGreenCard(ctx context.Context, req CalculateGreenCardRequest) (*rca.RCAEQuote, error) {
	if !rca.ValidTermInsurance(req.TermInsurance) {
		return nil, invalid("TermInsurance", "unknown term %q", req.TermInsurance)
	}
	quote, errQuote := s.rca.CalculateRCAE(ctx, rca.RCAEInput{
		GreenCardZone:                        req.GreenCardZone,
		TermInsurance:                        req.TermInsurance,
		IDNX:                                 req.IDNX,
		VehicleRegistrationCertificateNumber: req.VehicleRegistrationCertificateNumber,
	})
	if errQuote != nil {
		return nil, errQuote
	}
	if !quote.IsSuccess {
		return nil, &provider.BusinessError{Provider: rca.ProviderName, Op: "CalculateRCAEPremium", Message: quote.Message()}
	}
	lines, errEnrich := s.directory.EnrichRCALines(ctx, quote.InsurersPrime.Lines)
	if errEnrich != nil {
		return nil, errEnrich
	}
	quote.InsurersPrime.Lines = lines
	return quote, nil
}

// CalculateMedical quotes travel medical insurance and attaches the insurer identity.
func (s *Service) CalculateMedical(ctx context.Context, req CalculateMedicalRequest) ([]medical.Envelope, error) {
	contracts, errContracts := NewMedicalContracts(req.DogMEDPH, s.now())
	if errContracts != nil {
		return nil, errContracts
	}
	quote, errQuote := s.medical.CalculateTariff(ctx, medical.Envelope{DogMEDPH: contracts})
	if errQuote != nil {
		return nil, errQuote
	}
	if errEnrich := s.directory.EnrichMedicalQuote(ctx, quote); errEnrich != nil {
		return nil, errEnrich
	}
	return []medical.Envelope{*quote}, nil
}

// SaveRCA issues a domestic RCA policy.
func (s *Service) SaveRCA(ctx context.Context, req SaveRCARequest) (*Issued, error) {
	cmd, errCmd := NewRCACommand(req, s.now())
	if errCmd != nil {
		return nil, errCmd
	}
	return s.issue(ctx, cmd.QRCode, models.ContractTypeRCAI, func(paymentDate time.Time) (provider.Outcome, any, error) {
		doc := cmd.Document(paymentDate)
		outcome := s.rca.SaveRCADocument(ctx, doc)
		return outcome, doc, outcome.Err(rca.ProviderName, "SaveRcaDocument")
	})
}

// SaveGreenCard issues a Green Card policy.
func (s *Service) SaveGreenCard(ctx context.Context, req SaveGreenCardRequest) (*Issued, error) {
	cmd, errCmd := NewGreenCardCommand(req, s.now())
	if errCmd != nil {
		return nil, errCmd
	}
	return s.issue(ctx, cmd.QRCode, models.ContractTypeGreenCard, func(paymentDate time.Time) (provider.Outcome, any, error) {
		doc := cmd.Document(paymentDate)
		outcome := s.rca.SaveGreenCardDocument(ctx, doc)
		return outcome, doc, outcome.Err(rca.ProviderName, "SaveGreenCardDocument")
	})
}

// SaveMedical issues a travel medical policy.
func (s *Service) SaveMedical(ctx context.Context, req SaveMedicalRequest) (*Issued, error) {
	cmd, errCmd := NewMedicalCommand(req, s.now())
	if errCmd != nil {
		return nil, errCmd
	}
	return s.issue(ctx, cmd.QRCode, models.ContractTypeMedical, func(time.Time) (provider.Outcome, any, error) {
		env := cmd.Envelope()
		outcome := s.medical.CreateContract(ctx, env)
		return outcome, env, outcome.Err(medical.ProviderName, "CreateContract")
	})
}

type submitFunc func(paymentDate time.Time) (provider.Outcome, any, error)

// issue consumes the token, submits and records the policy in one transaction.
// Any error, including a provider rejection, rolls the token back to unused.
func (s *Service) issue(ctx context.Context, qrCode, contractType string, submit submitFunc) (*Issued, error) {
	var documentID string
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		token, paymentDate, errConsume := s.tokens.Consume(tx, qrCode)
		if errConsume != nil {
			return errConsume
		}
		outcome, request, errSubmit := submit(paymentDate)
		if errSubmit != nil {
			return errSubmit
		}
		rawRequest, errMarshal := json.Marshal(request)
		if errMarshal != nil {
			return fmt.Errorf("issuance: encode request: %w", errMarshal)
		}
		policy := &models.Policy{
			DocumentID:     outcome.DocumentID,
			ContractType:   contractType,
			PaymentTokenID: token.ID,
			PaymentDate:    paymentDate,
			Request:        datatypes.JSON(rawRequest),
		}
		if errCreate := tx.Create(policy).Error; errCreate != nil {
			return fmt.Errorf("issuance: record policy %s: %w", outcome.DocumentID, errCreate)
		}
		documentID = outcome.DocumentID
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}

	log.Infof("issuance: %s policy %s issued with token %s", contractType, documentID, qrCode)
	issued := &Issued{DocumentID: documentID, URL: s.FileURL(documentID, contractType)}
	issued.TaskID = s.scheduleRetrieval(ctx, documentID, contractType)
	return issued, nil
}

func (s *Service) scheduleRetrieval(ctx context.Context, documentID, contractType string) string {
	if s.tasks == nil {
		return ""
	}
	task, errNew := tasks.New(tasks.TypeRetrieveDocuments, tasks.RetrievePayload{ExternalID: documentID, ContractType: contractType}, s.now())
	if errNew != nil {
		log.WithError(errNew).Warn("issuance: build retrieval task failed")
		return ""
	}
	queued, errEnqueue := s.tasks.Enqueue(ctx, task)
	if errEnqueue != nil {
		log.WithError(errEnqueue).Warnf("issuance: schedule retrieval of %s failed", documentID)
		return ""
	}
	return queued.ID
}

// FileURL is the public download link of an issued document.
func (s *Service) FileURL(documentID, contractType string) string {
	query := url.Values{}
	query.Set("ContractType", contractType)
	query.Set("DocumentType", string(rca.PartContract))
	return fmt.Sprintf("%s/api/rca/%s/get-rca-file?%s", s.publicURL, url.PathEscape(documentID), query.Encode())
}
