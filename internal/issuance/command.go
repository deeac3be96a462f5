package issuance

import (
	"strings"
	"time"

	"github.com/topasig/PolicyBroker/internal/provider/medical"
	"github.com/topasig/PolicyBroker/internal/provider/rca"
)

const (
	soapDateLayout     = "2006-01-02"
	soapDateTimeLayout = "2006-01-02T15:04:05"
)

// RCACommand is a validated RCA issuance. It is never modified after construction.
type RCACommand struct {
	QRCode             string
	CompanyIDNO        string
	Physical           *rca.PhysicalPerson
	Juridical          *rca.JuridicalPerson
	Vehicle            rca.Vehicle
	StartDate          time.Time
	PossessionBase     string
	PossessionBaseDate time.Time
	OperatingMode      rca.OperatingMode
}

// GreenCardCommand is a validated Green Card issuance.
type GreenCardCommand struct {
	QRCode             string
	CompanyIDNO        string
	Physical           *rca.PhysicalPerson
	Juridical          *rca.JuridicalPerson
	Vehicle            rca.Vehicle
	StartDate          time.Time
	TermInsurance      string
	PossessionBase     string
	PossessionBaseDate *time.Time
	GreenCardZone      string
}

// MedicalCommand is a validated medical issuance.
type MedicalCommand struct {
	QRCode    string
	Contracts []medical.Contract
}

// NewRCACommand validates req against now.
func NewRCACommand(req SaveRCARequest, now time.Time) (RCACommand, error) {
	start, errStart := parseDate("StartDate", req.StartDate)
	if errStart != nil {
		return RCACommand{}, errStart
	}
	if errPast := notInPast("StartDate", start, now); errPast != nil {
		return RCACommand{}, errPast
	}
	physical, juridical, errPerson := insuredPersons(req.InsuredPhysicalPerson, req.InsuredJuridicalPerson)
	if errPerson != nil {
		return RCACommand{}, errPerson
	}
	mode := req.OperatingModes
	if mode == 0 {
		mode = rca.OperatingModeUsual
	}
	if !mode.Valid() {
		return RCACommand{}, invalid("OperatingModes", "unknown operating mode %d", int(mode))
	}
	possessionDate, errPossession := parseDate("DocumentPossessionBaseDate", orDefault(req.DocumentPossessionBaseDate, defaultPossessionDate))
	if errPossession != nil {
		return RCACommand{}, errPossession
	}
	vehicle, errVehicle := vehicleFrom(req.InsuredVehicle)
	if errVehicle != nil {
		return RCACommand{}, errVehicle
	}
	return RCACommand{
		QRCode:             strings.TrimSpace(req.QRCode),
		CompanyIDNO:        strings.TrimSpace(req.Company.IDNO),
		Physical:           physical,
		Juridical:          juridical,
		Vehicle:            vehicle,
		StartDate:          start,
		PossessionBase:     orDefault(req.PossessionBase, DefaultPossessionBase),
		PossessionBaseDate: possessionDate,
		OperatingMode:      mode,
	}, nil
}

// Document renders the provider request for a payment made at paymentDate.
func (c RCACommand) Document(paymentDate time.Time) rca.RCADocument {
	return rca.RCADocument{
		Company:                    rca.Company{IDNO: c.CompanyIDNO},
		InsuredPhysicalPerson:      c.Physical,
		InsuredJuridicalPerson:     c.Juridical,
		InsuredVehicle:             c.Vehicle,
		StartDate:                  c.StartDate.Format(soapDateLayout),
		PossessionBase:             c.PossessionBase,
		DocumentPossessionBaseDate: c.PossessionBaseDate.Format(soapDateLayout),
		OperatingMode:              c.OperatingMode,
		PaymentDate:                paymentDate.Format(soapDateLayout),
	}
}

// NewGreenCardCommand validates req against now.
func NewGreenCardCommand(req SaveGreenCardRequest, now time.Time) (GreenCardCommand, error) {
	start, errStart := parseDate("StartDate", req.StartDate)
	if errStart != nil {
		return GreenCardCommand{}, errStart
	}
	if errPast := notInPast("StartDate", start, now); errPast != nil {
		return GreenCardCommand{}, errPast
	}
	if !rca.ValidTermInsurance(req.TermInsurance) {
		return GreenCardCommand{}, invalid("TermInsurance", "unknown term %q", req.TermInsurance)
	}
	if !rca.ValidGreenCardZone(req.GreenCardZone) {
		return GreenCardCommand{}, invalid("GreenCardZone", "unknown zone %q", req.GreenCardZone)
	}
	physical, juridical, errPerson := insuredPersons(req.InsuredPhysicalPerson, req.InsuredJuridicalPerson)
	if errPerson != nil {
		return GreenCardCommand{}, errPerson
	}
	vehicle, errVehicle := vehicleFrom(req.InsuredVehicle)
	if errVehicle != nil {
		return GreenCardCommand{}, errVehicle
	}
	cmd := GreenCardCommand{
		QRCode:         strings.TrimSpace(req.QRCode),
		Physical:       physical,
		Juridical:      juridical,
		Vehicle:        vehicle,
		StartDate:      start,
		TermInsurance:  req.TermInsurance,
		PossessionBase: strings.TrimSpace(req.PossessionBase),
		GreenCardZone:  req.GreenCardZone,
	}
	if req.Company != nil {
		cmd.CompanyIDNO = strings.TrimSpace(req.Company.IDNO)
	}
	if strings.TrimSpace(req.DocumentPossessionBaseDate) != "" {
		possessionDate, errPossession := parseDate("DocumentPossessionBaseDate", req.DocumentPossessionBaseDate)
		if errPossession != nil {
			return GreenCardCommand{}, errPossession
		}
		cmd.PossessionBaseDate = &possessionDate
	}
	return cmd, nil
}

// Document renders the provider request for a payment made at paymentDate.
func (c GreenCardCommand) Document(paymentDate time.Time) rca.GreenCardDocument {
	doc := rca.GreenCardDocument{
		InsuredPhysicalPerson:  c.Physical,
		InsuredJuridicalPerson: c.Juridical,
		InsuredVehicle:         c.Vehicle,
		StartDate:              c.StartDate.Format(soapDateLayout),
		TermInsurance:          c.TermInsurance,
		PossessionBase:         c.PossessionBase,
		GreenCardZone:          c.GreenCardZone,
		PaymentDate:            paymentDate.UTC().Format(soapDateTimeLayout),
	}
	if c.CompanyIDNO != "" {
		doc.Company = &rca.Company{IDNO: c.CompanyIDNO}
	}
	if c.PossessionBaseDate != nil {
		doc.DocumentPossessionBaseDate = c.PossessionBaseDate.Format(soapDateTimeLayout)
	}
	return doc
}

// NewMedicalContracts validates contract inputs and derives the coverage figures.
func NewMedicalContracts(inputs []MedicalContractInput, now time.Time) ([]medical.Contract, error) {
	if len(inputs) == 0 {
		return nil, invalid("DogMEDPH", "at least one contract is required")
	}
	contracts := make([]medical.Contract, 0, len(inputs))
	for _, in := range inputs {
		contract, errContract := medicalContract(in, now)
		if errContract != nil {
			return nil, errContract
		}
		contracts = append(contracts, contract)
	}
	return contracts, nil
}

// NewMedicalCommand validates req against now.
func NewMedicalCommand(req SaveMedicalRequest, now time.Time) (MedicalCommand, error) {
	contracts, errContracts := NewMedicalContracts(req.DogMEDPH, now)
	if errContracts != nil {
		return MedicalCommand{}, errContracts
	}
	return MedicalCommand{QRCode: strings.TrimSpace(req.QRCode), Contracts: contracts}, nil
}

// Envelope renders the provider request.
func (c MedicalCommand) Envelope() medical.Envelope {
	contracts := make([]medical.Contract, len(c.Contracts))
	copy(contracts, c.Contracts)
	return medical.Envelope{DogMEDPH: contracts}
}

func medicalContract(in MedicalContractInput, now time.Time) (medical.Contract, error) {
	signed, errSigned := parseDate("data", in.Data)
	if errSigned != nil {
		return medical.Contract{}, errSigned
	}
	start, errStart := parseDate("startDate", in.StartDate)
	if errStart != nil {
		return medical.Contract{}, errStart
	}
	if errPast := notInPast("startDate", start, now); errPast != nil {
		return medical.Contract{}, errPast
	}
	end, errEnd := parseDate("endDate", in.EndDate)
	if errEnd != nil {
		return medical.Contract{}, errEnd
	}
	days, months, errPeriod := medical.CoveragePeriod(start, end)
	if errPeriod != nil {
		return medical.Contract{}, invalid("endDate", "%s", errPeriod.Error())
	}

	persons := make([]medical.Person, 0, len(in.Persons))
	for _, person := range in.Persons {
		birthday, errBirthday := parseDate("birthday", person.Birthday)
		if errBirthday != nil {
			return medical.Contract{}, errBirthday
		}
		persons = append(persons, medical.Person{
			IDNP:     strings.TrimSpace(person.IDNP),
			FullName: strings.TrimSpace(person.FullName),
			Birthday: birthday.Format(medical.DateLayout),
		})
	}

	sarsCov := true
	if in.SARSCOV19 != nil {
		sarsCov = *in.SARSCOV19
	}
	return medical.Contract{
		Valiuta:                     orDefault(in.Valiuta, defaultMedicalCurrency),
		Data:                        signed.Format(medical.DateLayout),
		StartDate:                   start.Format(medical.DateLayout),
		EndDate:                     end.Format(medical.DateLayout),
		ProductUIN:                  in.ProductUIN,
		RegiuniUIN:                  in.RegiuniUIN,
		ScopulCalatorieiUIN:         in.ScopulCalatorieiUIN,
		TaraUIN:                     in.TaraUIN,
		TipSportUIN:                 in.TipSportUIN,
		SARSCOV19:                   sarsCov,
		ZileDeAcoperire:             days,
		SumaDeAsig:                  intOr(in.SumaDeAsig, defaultSumInsured),
		MesiatsevPeriodaStrahovania: months,
		Persons:                     persons,
	}, nil
}

func insuredPersons(physical *PhysicalPersonInput, juridical *JuridicalPersonInput) (*rca.PhysicalPerson, *rca.JuridicalPerson, error) {
	if physical == nil && juridical == nil {
		return nil, nil, invalid("InsuredPhysicalPerson", "an insured physical or juridical person is required")
	}
	var outPhysical *rca.PhysicalPerson
	if physical != nil {
		birth, errBirth := parseDate("InsuredPhysicalPerson.BirthDate", orDefault(physical.BirthDate, defaultBirthDate))
		if errBirth != nil {
			return nil, nil, errBirth
		}
		outPhysical = &rca.PhysicalPerson{
			IdentificationCode: strings.TrimSpace(physical.IdentificationCode),
			BirthDate:          birth.Format(soapDateLayout),
			IsFromTransnistria: physical.IsFromTransnistria,
			PersonIsExternal:   physical.PersonIsExternal,
		}
	}
	var outJuridical *rca.JuridicalPerson
	if juridical != nil {
		outJuridical = &rca.JuridicalPerson{IdentificationCode: strings.TrimSpace(juridical.IdentificationCode)}
	}
	return outPhysical, outJuridical, nil
}

func vehicleFrom(in VehicleInput) (rca.Vehicle, error) {
	certificate := strings.TrimSpace(in.RegistrationCertificateNumber)
	if certificate == "" {
		return rca.Vehicle{}, invalid("InsuredVehicle.RegistrationCertificateNumber", "this field is required")
	}
	return rca.Vehicle{
		ProductionYear:                intOr(in.ProductionYear, defaultProductionYear),
		RegistrationCertificateNumber: certificate,
		CilinderVolume:                intOr(in.CilinderVolume, defaultCilinderVolume),
		TotalWeight:                   intOr(in.TotalWeight, defaultTotalWeight),
		EnginePower:                   intOr(in.EnginePower, defaultEnginePower),
		Seats:                         intOr(in.Seats, defaultSeats),
	}, nil
}

func orDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
