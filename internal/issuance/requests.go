package issuance

import (
	"fmt"
	"strings"
	"time"

	"github.com/topasig/PolicyBroker/internal/provider/rca"
)

// DateLayout is the calendar date format accepted from clients.
const DateLayout = "2006-01-02"

// DefaultPossessionBase applies when a save request does not name one.
const DefaultPossessionBase = "Property"

// Defaults the provider expects when the client leaves vehicle or person fields out.
const (
	defaultBirthDate       = "2000-01-01"
	defaultPossessionDate  = "2000-01-01"
	defaultProductionYear  = 2025
	defaultCilinderVolume  = 2000
	defaultTotalWeight     = 2000
	defaultEnginePower     = 200
	defaultSeats           = 5
	defaultSumInsured      = 30000
	defaultMedicalCurrency = "840"
)

// ValidationError reports a rejected request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// CalculateRCARequest asks for a domestic RCA quote.
type CalculateRCARequest struct {
	OperatingModes                       rca.OperatingMode `json:"OperatingModes" binding:"required"`
	PersonIsJuridical                    bool              `json:"PersonIsJuridical"`
	IDNX                                 string            `json:"IDNX" binding:"omitempty,len=13"`
	VehicleRegistrationCertificateNumber string            `json:"VehicleRegistrationCertificateNumber" binding:"omitempty,len=9"`
	Territory                            string            `json:"Territory"`
}

// CalculateGreenCardRequest asks for a Green Card quote.
type CalculateGreenCardRequest struct {
	GreenCardZone                        string `json:"GreenCardZone" binding:"required,oneof=Z1 Z3"`
	TermInsurance                        string `json:"TermInsurance" binding:"required"`
	IDNX                                 string `json:"IDNX" binding:"required,len=13"`
	VehicleRegistrationCertificateNumber string `json:"VehicleRegistrationCertificateNumber" binding:"required,len=9"`
}

// CompanyInput names the issuing insurer.
type CompanyInput struct {
	IDNO string `json:"IDNO"`
}

// PhysicalPersonInput is an insured natural person.
type PhysicalPersonInput struct {
	IdentificationCode string `json:"IdentificationCode" binding:"required"`
	BirthDate          string `json:"BirthDate"`
	IsFromTransnistria bool   `json:"IsFromTransnistria"`
	PersonIsExternal   bool   `json:"PersonIsExternal"`
}

// JuridicalPersonInput is an insured legal entity.
type JuridicalPersonInput struct {
	IdentificationCode string `json:"IdentificationCode" binding:"required"`
}

// VehicleInput is the insured vehicle. Omitted figures take provider defaults.
type VehicleInput struct {
	ProductionYear                *int   `json:"ProductionYear"`
	RegistrationCertificateNumber string `json:"RegistrationCertificateNumber" binding:"required"`
	CilinderVolume                *int   `json:"CilinderVolume"`
	TotalWeight                   *int   `json:"TotalWeight"`
	EnginePower                   *int   `json:"EnginePower"`
	Seats                         *int   `json:"Seats"`
}

// SaveRCARequest issues a domestic RCA policy paid by QRCode.
type SaveRCARequest struct {
	Company                    CompanyInput          `json:"Company"`
	InsuredPhysicalPerson      *PhysicalPersonInput  `json:"InsuredPhysicalPerson"`
	InsuredJuridicalPerson     *JuridicalPersonInput `json:"InsuredJuridicalPerson"`
	InsuredVehicle             VehicleInput          `json:"InsuredVehicle" binding:"required"`
	StartDate                  string                `json:"StartDate" binding:"required"`
	PossessionBase             string                `json:"PossessionBase"`
	DocumentPossessionBaseDate string                `json:"DocumentPossessionBaseDate"`
	OperatingModes             rca.OperatingMode     `json:"OperatingModes"`
	QRCode                     string                `json:"qrCode" binding:"required"`
}

// SaveGreenCardRequest issues a Green Card policy paid by QRCode.
type SaveGreenCardRequest struct {
	Company                    *CompanyInput         `json:"Company"`
	InsuredPhysicalPerson      *PhysicalPersonInput  `json:"InsuredPhysicalPerson"`
	InsuredJuridicalPerson     *JuridicalPersonInput `json:"InsuredJuridicalPerson"`
	InsuredVehicle             VehicleInput          `json:"InsuredVehicle" binding:"required"`
	StartDate                  string                `json:"StartDate" binding:"required"`
	TermInsurance              string                `json:"TermInsurance" binding:"required"`
	PossessionBase             string                `json:"PossessionBase" binding:"required"`
	DocumentPossessionBaseDate string                `json:"DocumentPossessionBaseDate"`
	GreenCardZone              string                `json:"GreenCardZone" binding:"required,oneof=Z1 Z3"`
	QRCode                     string                `json:"qrCode" binding:"required"`
}

// MedicalPersonInput is one traveller.
type MedicalPersonInput struct {
	IDNP     string `json:"idnp" binding:"required,max=13"`
	FullName string `json:"fullName" binding:"required,max=255"`
	Birthday string `json:"birthday" binding:"required"`
}

// MedicalContractInput is one requested medical contract.
type MedicalContractInput struct {
	Valiuta             string               `json:"valiuta_" binding:"omitempty,max=3"`
	Data                string               `json:"data" binding:"required"`
	StartDate           string               `json:"startDate" binding:"required"`
	EndDate             string               `json:"endDate" binding:"required"`
	ProductUIN          string               `json:"ProductUIN" binding:"required,max=255"`
	RegiuniUIN          string               `json:"RegiuniUIN" binding:"required,max=255"`
	ScopulCalatorieiUIN string               `json:"ScopulCalatorieiUIN" binding:"required,max=255"`
	TaraUIN             string               `json:"TaraUIN" binding:"required,max=255"`
	TipSportUIN         string               `json:"TipSportUIN" binding:"max=255"`
	SARSCOV19           *bool                `json:"SARS_COV19"`
	SumaDeAsig          *int                 `json:"SumaDeAsig"`
	Persons             []MedicalPersonInput `json:"persons" binding:"required,min=1,dive"`
}

// CalculateMedicalRequest asks for a travel medical quote.
type CalculateMedicalRequest struct {
	DogMEDPH []MedicalContractInput `json:"DogMEDPH" binding:"required,min=1,dive"`
}

// SaveMedicalRequest issues a travel medical policy paid by QRCode.
type SaveMedicalRequest struct {
	DogMEDPH []MedicalContractInput `json:"DogMEDPH" binding:"required,min=1,dive"`
	QRCode   string                 `json:"qrCode" binding:"required"`
}

// parseDate accepts YYYY-MM-DD, YYYY.MM.DD or an RFC 3339 timestamp.
func parseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{DateLayout, "2006.01.02", time.RFC3339, "2006-01-02T15:04:05"} {
		if parsed, errParse := time.Parse(layout, value); errParse == nil {
			return parsed, nil
		}
	}
	return time.Time{}, invalid(field, "invalid date %q", value)
}

// notInPast rejects dates before today.
func notInPast(field string, date, now time.Time) error {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	if day.Before(today) {
		return invalid(field, "%s must be in the future", field)
	}
	return nil
}

func intOr(value *int, fallback int) int {
	if value == nil {
		return fallback
	}
	return *value
}
