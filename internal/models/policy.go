package models

import (
	"time"

	"gorm.io/datatypes"
)

// Contract types accepted by the document endpoints.
const (
	ContractTypeRCAI      = "RCAI"
	ContractTypeGreenCard = "CV"
	ContractTypeMedical   = "MEDPH"
)

// DocumentTypeForContract maps a contract type to the artifact taxonomy.
func DocumentTypeForContract(contractType string) DocumentType {
	switch contractType {
	case ContractTypeRCAI:
		return DocumentTypeRCA
	case ContractTypeGreenCard:
		return DocumentTypeGreenCard
	case ContractTypeMedical:
		return DocumentTypeMedical
	default:
		return DocumentTypeOther
	}
}

// Policy records an issuance accepted by a provider.
type Policy struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	DocumentID   string `gorm:"type:varchar(64);not null;uniqueIndex"` // Provider document id.
	ContractType string `gorm:"type:varchar(10);not null;index"`       // RCAI, CV or MEDPH.

	PaymentTokenID uint64        `gorm:"not null;index"`              // Token consumed by this issuance.
	PaymentToken   *PaymentToken `gorm:"foreignKey:PaymentTokenID"` // Token relation.
	PaymentDate    time.Time     `gorm:"not null"`                    // Payment date sent to the provider.

	Request datatypes.JSON `gorm:"type:jsonb"` // Provider request as submitted.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
