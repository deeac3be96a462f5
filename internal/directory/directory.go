// Package directory keeps the local insurer registry and decorates provider quotes with it.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/topasig/PolicyBroker/internal/models"
	"github.com/topasig/PolicyBroker/internal/provider/medical"
	"github.com/topasig/PolicyBroker/internal/provider/rca"
	"github.com/topasig/PolicyBroker/internal/settings"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Directory reads and extends the insurer tables.
type Directory struct {
	db          *gorm.DB
	defaultLogo string
}

// New returns a directory. defaultLogo is used for companies without their own logo.
func New(conn *gorm.DB, defaultLogo string) *Directory {
	return &Directory{db: conn, defaultLogo: defaultLogo}
}

// DefaultLogo returns the logo URL for companies that have none.
func (d *Directory) DefaultLogo() string {
	return settings.String(settings.DefaultLogoURLKey, d.defaultLogo)
}

func (d *Directory) logoFor(url string) string {
	if strings.TrimSpace(url) != "" {
		return url
	}
	return d.DefaultLogo()
}

// EnsureRCACompanies returns the directory rows for the insurers in lines, creating
// unseen ones as active and public.
func (d *Directory) EnsureRCACompanies(ctx context.Context, lines []rca.InsurerPrime) (map[string]models.RCACompany, error) {
	idnos := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	var missing []models.RCACompany
	for _, line := range lines {
		idno := strings.TrimSpace(line.IDNO)
		if idno == "" {
			continue
		}
		if _, dup := seen[idno]; dup {
			continue
		}
		seen[idno] = struct{}{}
		idnos = append(idnos, idno)
		missing = append(missing, models.RCACompany{Name: line.Name, IDNO: idno, IsActive: true, IsPublic: true})
	}
	if len(idnos) == 0 {
		return map[string]models.RCACompany{}, nil
	}

	if errCreate := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idno"}},
		DoNothing: true,
	}).Create(&missing).Error; errCreate != nil {
		return nil, fmt.Errorf("directory: register rca companies: %w", errCreate)
	}

	var companies []models.RCACompany
	if errFind := d.db.WithContext(ctx).Where("idno IN ?", idnos).Find(&companies).Error; errFind != nil {
		return nil, fmt.Errorf("directory: load rca companies: %w", errFind)
	}
	byIDNO := make(map[string]models.RCACompany, len(companies))
	for _, company := range companies {
		byIDNO[company.IDNO] = company
	}
	return byIDNO, nil
}

// EnrichRCALines attaches logo and active flag to each quote line and drops
// insurers that are not public.
func (d *Directory) EnrichRCALines(ctx context.Context, lines []rca.InsurerPrime) ([]rca.InsurerPrime, error) {
	companies, errEnsure := d.EnsureRCACompanies(ctx, lines)
	if errEnsure != nil {
		return nil, errEnsure
	}
	out := make([]rca.InsurerPrime, 0, len(lines))
	for _, line := range lines {
		company, ok := companies[strings.TrimSpace(line.IDNO)]
		if !ok {
			line.IsActive = false
			line.Logo = d.DefaultLogo()
			out = append(out, line)
			continue
		}
		if !company.IsPublic {
			continue
		}
		line.IsActive = company.IsActive
		line.Logo = d.logoFor(company.LogoURL)
		out = append(out, line)
	}
	return out, nil
}

// MedicalCompany returns the medical insurer of record, or nil when none is configured.
func (d *Directory) MedicalCompany(ctx context.Context) (*models.MedicalInsuranceCompany, error) {
	var company models.MedicalInsuranceCompany
	errFind := d.db.WithContext(ctx).Order("id ASC").First(&company).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if errFind != nil {
		return nil, fmt.Errorf("directory: load medical company: %w", errFind)
	}
	return &company, nil
}

// EnrichMedicalQuote copies the medical insurer identity onto the first contract of env.
func (d *Directory) EnrichMedicalQuote(ctx context.Context, env *medical.Envelope) error {
	if env == nil || len(env.DogMEDPH) == 0 {
		return nil
	}
	company, errFind := d.MedicalCompany(ctx)
	if errFind != nil {
		return errFind
	}
	first := &env.DogMEDPH[0]
	if company == nil {
		log.Warn("directory: no medical insurance company configured")
		first.Logo = d.DefaultLogo()
		return nil
	}
	isActive := company.IsActive
	first.IDNO = company.IDNO
	first.Name = company.Name
	first.IsActive = &isActive
	first.Logo = d.logoFor(company.LogoURL)
	return nil
}
