package medical

import (
	"fmt"
	"time"

	"github.com/topasig/PolicyBroker/internal/provider"
)

// DateLayout is the date format the gateway uses in request and response bodies.
const DateLayout = "2006.01.02"

// Directory endpoint names. They double as keys of the constants payload.
const (
	DirProducts       = "medicina_producti"
	DirTripPurposes   = "medicina_tseli_poezdki"
	DirRegions        = "medicina_regioni"
	DirClientCountry  = "spravociniki_strani"
	DirSports         = "medicina_sport"
	DirInsuredCountry = "medicina_straniUF"
	DirCities         = "spravociniki_goroda"
	DirRegionCountry  = "regioni_i_strani"
)

// Directories lists every reference directory endpoint.
var Directories = []string{
	DirProducts, DirTripPurposes, DirRegions, DirClientCountry,
	DirSports, DirInsuredCountry, DirCities, DirRegionCountry,
}

// Person is one insured traveller.
type Person struct {
	IDNP     string          `json:"idnp"`
	FullName string          `json:"fullName"`
	Birthday string          `json:"birthday"`
	PrimaVAL *provider.Money `json:"PrimaVAL,omitempty"`
}

// Contract is a DogMEDPH record, used for tariff calculation, contract creation and the enriched quote.
type Contract struct {
	UINDokumenta                string   `json:"UIN_Dokumenta"`
	Valiuta                     string   `json:"valiuta_"`
	Data                        string   `json:"data"`
	StartDate                   string   `json:"startDate"`
	EndDate                     string   `json:"endDate"`
	ProductUIN                  string   `json:"ProductUIN"`
	RegiuniUIN                  string   `json:"RegiuniUIN"`
	ScopulCalatorieiUIN         string   `json:"ScopulCalatorieiUIN"`
	TaraUIN                     string   `json:"TaraUIN"`
	TipSportUIN                 string   `json:"TipSportUIN"`
	SARSCOV19                   bool     `json:"SARS_COV19"`
	ZileDeAcoperire             int      `json:"ZileDeAcoperire"`
	SumaDeAsig                  int      `json:"SumaDeAsig"`
	MesiatsevPeriodaStrahovania int      `json:"MesiatsevPeriodaStrahovania"`
	Persons                     []Person `json:"persons"`

	PrimaTotalaVAL *provider.Money `json:"PrimaTotalaVAL,omitempty"`
	PrimaTotalaLEI *provider.Money `json:"PrimaTotalaLEI,omitempty"`

	IDNO     string `json:"IDNO,omitempty"`
	Name     string `json:"Name,omitempty"`
	IsActive *bool  `json:"is_active,omitempty"`
	Logo     string `json:"logo,omitempty"`
}

// Envelope is the {"DogMEDPH": [...]} wrapper every operation uses.
type Envelope struct {
	DogMEDPH []Contract `json:"DogMEDPH"`
}

// CoveragePeriod returns the covered days (at least one) and the number of
// calendar months touched by the period.
func CoveragePeriod(start, end time.Time) (days int, months int, err error) {
	start = truncateDay(start)
	end = truncateDay(end)
	if end.Before(start) {
		return 0, 0, fmt.Errorf("endDate %s is before startDate %s", end.Format(DateLayout), start.Format(DateLayout))
	}
	days = int(end.Sub(start).Hours() / 24)
	if days < 1 {
		days = 1
	}
	months = (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month()) + 1
	return days, months, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// printFormsResponse is the medicina_forme_printate result; parts keep the gateway's order.
type printFormsResponse struct {
	Forms []struct {
		Name    string `json:"Denumire"`
		Content string `json:"Fisier"`
	} `json:"FormePrintate"`
}

// gatewayError is the body shape of a rejected request.
type gatewayError struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Detail  string   `json:"detail"`
	Errors  []string `json:"errors"`
}

func (g gatewayError) text() string {
	for _, candidate := range []string{g.Error, g.Message, g.Detail} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}
