package db

import (
	"fmt"

	"github.com/topasig/PolicyBroker/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates every table owned by the service.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.Setting{},
		&models.IssuedDocument{},
		&models.PaymentToken{},
		&models.Policy{},
		&models.RCACompany{},
		&models.MedicalInsuranceCompany{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}
