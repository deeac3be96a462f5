package rca

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/topasig/PolicyBroker/internal/provider"
)

// OperatingMode is the vehicle usage declared on an RCA contract.
type OperatingMode int

// OperatingMode values, keyed by the codes clients send.
const (
	OperatingModeUsual OperatingMode = iota + 1
	OperatingModeMinibus
	OperatingModeIntercityBus
	OperatingModeTaxi
	OperatingModeRentACar
)

var operatingModeNames = map[OperatingMode]string{
	OperatingModeUsual:        "Usual",
	OperatingModeMinibus:      "Minibus",
	OperatingModeIntercityBus: "IntercityBus",
	OperatingModeTaxi:         "Taxi",
	OperatingModeRentACar:     "RentACar",
}

// String returns the name the export service expects.
func (m OperatingMode) String() string {
	if name, ok := operatingModeNames[m]; ok {
		return name
	}
	return "OperatingMode(" + strconv.Itoa(int(m)) + ")"
}

// Valid reports whether m is a known mode.
func (m OperatingMode) Valid() bool {
	_, ok := operatingModeNames[m]
	return ok
}

// ParseOperatingMode accepts a numeric code ("1".."5") or a mode name.
func ParseOperatingMode(value string) (OperatingMode, error) {
	value = strings.TrimSpace(value)
	if n, errAtoi := strconv.Atoi(value); errAtoi == nil {
		if mode := OperatingMode(n); mode.Valid() {
			return mode, nil
		}
		return 0, fmt.Errorf("unknown operating mode %q", value)
	}
	for mode, name := range operatingModeNames {
		if strings.EqualFold(name, value) {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("unknown operating mode %q", value)
}

// UnmarshalJSON accepts both 1 and "1".
func (m *OperatingMode) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	mode, errParse := ParseOperatingMode(raw)
	if errParse != nil {
		return errParse
	}
	*m = mode
	return nil
}

// MarshalJSON writes the numeric code as a string, matching what clients send.
func (m OperatingMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.Itoa(int(m)))
}

// MarshalText writes the mode name into SOAP requests.
func (m OperatingMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("unknown operating mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// DocumentPart is one of the printable parts of a policy package.
type DocumentPart string

// DocumentPart values in merge order.
const (
	PartContract        DocumentPart = "Contract"
	PartDemand          DocumentPart = "Demand"
	PartInsurancePolicy DocumentPart = "InsurancePolicy"
)

// Parts lists document parts in the order they appear in a merged package.
var Parts = []DocumentPart{PartContract, PartDemand, PartInsurancePolicy}

// Green Card zones.
const (
	GreenCardZone1 = "Z1" // Ukraine and Belarus
	GreenCardZone3 = "Z3" // all Green Card countries
)

// TermInsurance values accepted for Green Card contracts.
var TermInsurance = []string{"d15", "m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8", "m9", "m10", "m11", "m12"}

// ValidTermInsurance reports whether term is a known Green Card term.
func ValidTermInsurance(term string) bool {
	for _, candidate := range TermInsurance {
		if candidate == term {
			return true
		}
	}
	return false
}

// ValidGreenCardZone reports whether zone is Z1 or Z3.
func ValidGreenCardZone(zone string) bool {
	return zone == GreenCardZone1 || zone == GreenCardZone3
}

// InsurerPrime is one insurer line of a quote.
type InsurerPrime struct {
	Name        string `xml:"Name" json:"Name"`
	IDNO        string `xml:"IDNO" json:"IDNO"`
	PrimeSum    provider.Money `xml:"PrimeSum" json:"PrimeSum"`
	PrimeSumMDL provider.Money `xml:"-" json:"PrimeSumMDL"`
	IsActive    bool           `xml:"-" json:"is_active"`
	Logo        string         `xml:"-" json:"logo"`

	rawPrimeSumMDL *provider.Money
}

// insurerPrimeXML carries the optional MDL figure before normalization.
type insurerPrimeXML struct {
	Name        string          `xml:"Name"`
	IDNO        string          `xml:"IDNO"`
	PrimeSum    provider.Money  `xml:"PrimeSum"`
	PrimeSumMDL *provider.Money `xml:"PrimeSumMDL"`
}

// UnmarshalXML keeps track of whether PrimeSumMDL was present.
func (p *InsurerPrime) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var raw insurerPrimeXML
	if errDecode := d.DecodeElement(&raw, &start); errDecode != nil {
		return errDecode
	}
	*p = InsurerPrime{Name: raw.Name, IDNO: raw.IDNO, PrimeSum: raw.PrimeSum, rawPrimeSumMDL: raw.PrimeSumMDL}
	return nil
}

// RCAIInput is a domestic RCA quote request.
type RCAIInput struct {
	OperatingModes                       OperatingMode
	PersonIsJuridical                    bool
	IDNX                                 string
	VehicleRegistrationCertificateNumber string
	Territory                            string
	EmployeeIDNP                         string
}

// RCAEInput is a Green Card quote request.
type RCAEInput struct {
	GreenCardZone                        string
	TermInsurance                        string
	IDNX                                 string
	VehicleRegistrationCertificateNumber string
	EmployeeIDNP                         string
}

// RCAIInsurers wraps RCAI premium lines.
type RCAIInsurers struct {
	Lines []InsurerPrime `xml:"InsurerPrimeRCAI" json:"InsurerPrimeRCAI"`
}

// RCAEInsurers wraps Green Card premium lines.
type RCAEInsurers struct {
	Lines []InsurerPrime `xml:"InsurerPrimeRCAE" json:"InsurerPrimeRCAE"`
}

// RCAIQuote is the domestic RCA calculation result.
type RCAIQuote struct {
	InsurersPrime             RCAIInsurers `xml:"InsurersPrime" json:"InsurersPrime"`
	BonusMalusClass           int          `xml:"BonusMalusClass" json:"BonusMalusClass"`
	IsSuccess                 bool         `xml:"IsSuccess" json:"IsSuccess"`
	ErrorMessage              *string      `xml:"ErrorMessage" json:"ErrorMessage"`
	Territory                 string       `xml:"Territory" json:"Territory"`
	PersonFirstName           *string      `xml:"PersonFirstName" json:"PersonFirstName"`
	PersonLastName            *string      `xml:"PersonLastName" json:"PersonLastName"`
	VehicleMark               string       `xml:"VehicleMark" json:"VehicleMark"`
	VehicleModel              string       `xml:"VehicleModel" json:"VehicleModel"`
	VehicleRegistrationNumber string       `xml:"VehicleRegistrationNumber" json:"VehicleRegistrationNumber"`
}

// RCAEQuote is the Green Card calculation result.
type RCAEQuote struct {
	InsurersPrime             RCAEInsurers `xml:"InsurersPrime" json:"InsurersPrime"`
	IsSuccess                 bool         `xml:"IsSuccess" json:"IsSuccess"`
	ErrorMessage              *string      `xml:"ErrorMessage" json:"ErrorMessage"`
	PersonFirstName           *string      `xml:"PersonFirstName" json:"PersonFirstName"`
	PersonLastName            *string      `xml:"PersonLastName" json:"PersonLastName"`
	VehicleMark               *string      `xml:"VehicleMark" json:"VehicleMark"`
	VehicleModel              *string      `xml:"VehicleModel" json:"VehicleModel"`
	VehicleRegistrationNumber *string      `xml:"VehicleRegistrationNumber" json:"VehicleRegistrationNumber"`
	VehicleCategory           *string      `xml:"VehicleCategory" json:"VehicleCategory"`
}

// Message returns the provider error message or a generic fallback.
func (q *RCAIQuote) Message() string { return messageOrDefault(q.ErrorMessage) }

// Message returns the provider error message or a generic fallback.
func (q *RCAEQuote) Message() string { return messageOrDefault(q.ErrorMessage) }

func messageOrDefault(msg *string) string {
	if msg != nil && strings.TrimSpace(*msg) != "" {
		return strings.TrimSpace(*msg)
	}
	return "calculation rejected by provider"
}

// normalizeLines fixes premiums to two places. Domestic lines always mirror
// PrimeSum into PrimeSumMDL; Green Card lines fall back to PrimeSum only when
// the MDL figure is missing.
func normalizeLines(lines []InsurerPrime, domestic bool) {
	for i := range lines {
		line := &lines[i]
		line.PrimeSum = provider.NewMoney(line.PrimeSum.Decimal)
		switch {
		case domestic || line.rawPrimeSumMDL == nil:
			line.PrimeSumMDL = line.PrimeSum
		default:
			line.PrimeSumMDL = provider.NewMoney(line.rawPrimeSumMDL.Decimal)
		}
		line.rawPrimeSumMDL = nil
	}
}

// Company identifies the issuing insurer.
type Company struct {
	IDNO string `xml:"IDNO"`
}

// PhysicalPerson is an insured natural person.
type PhysicalPerson struct {
	IdentificationCode string `xml:"IdentificationCode"`
	BirthDate          string `xml:"BirthDate"`
	IsFromTransnistria bool   `xml:"IsFromTransnistria"`
	PersonIsExternal   bool   `xml:"PersonIsExternal"`
}

// JuridicalPerson is an insured legal entity.
type JuridicalPerson struct {
	IdentificationCode string `xml:"IdentificationCode"`
}

// Vehicle is the insured vehicle.
type Vehicle struct {
	ProductionYear                int    `xml:"ProductionYear"`
	RegistrationCertificateNumber string `xml:"RegistrationCertificateNumber"`
	CilinderVolume                int    `xml:"CilinderVolume"`
	TotalWeight                   int    `xml:"TotalWeight"`
	EnginePower                   int    `xml:"EnginePower"`
	Seats                         int    `xml:"Seats"`
}

// RCADocument is the SaveRcaDocument request body.
type RCADocument struct {
	Company                    Company          `xml:"Company"`
	InsuredPhysicalPerson      *PhysicalPerson  `xml:"InsuredPhysicalPerson,omitempty"`
	InsuredJuridicalPerson     *JuridicalPerson `xml:"InsuredJuridicalPerson,omitempty"`
	InsuredVehicle             Vehicle          `xml:"InsuredVehicle"`
	StartDate                  string           `xml:"StartDate"`
	PossessionBase             string           `xml:"PossessionBase"`
	DocumentPossessionBaseDate string           `xml:"DocumentPossessionBaseDate"`
	OperatingMode              OperatingMode    `xml:"OperatingMode"`
	PaymentDate                string           `xml:"PaymentDate"`
}

// GreenCardDocument is the SaveGreenCardDocument request body.
type GreenCardDocument struct {
	Company                    *Company         `xml:"Company,omitempty"`
	InsuredPhysicalPerson      *PhysicalPerson  `xml:"InsuredPhysicalPerson,omitempty"`
	InsuredJuridicalPerson     *JuridicalPerson `xml:"InsuredJuridicalPerson,omitempty"`
	InsuredVehicle             Vehicle          `xml:"InsuredVehicle"`
	StartDate                  string           `xml:"StartDate"`
	TermInsurance              string           `xml:"TermInsurance"`
	PossessionBase             string           `xml:"PossessionBase"`
	DocumentPossessionBaseDate string           `xml:"DocumentPossessionBaseDate,omitempty"`
	GreenCardZone              string           `xml:"GreenCardZone"`
	PaymentDate                string           `xml:"PaymentDate"`
}
