package models

import (
	"time"

	"gorm.io/datatypes"
)

// DocumentType classifies stored artifacts.
type DocumentType string

// DocumentType values.
const (
	DocumentTypeRCA       DocumentType = "rca"
	DocumentTypeGreenCard DocumentType = "green_card"
	DocumentTypeMedical   DocumentType = "medical"
	DocumentTypeQR        DocumentType = "qr"
	DocumentTypeOther     DocumentType = "other"
)

// IssuedDocument is a write-once artifact keyed by the provider identifier.
type IssuedDocument struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ExternalID string       `gorm:"type:varchar(64);not null;uniqueIndex"`     // Provider document id or QR uuid.
	Name       string       `gorm:"type:varchar(255)"`                         // Base name of the stored blob.
	Type       DocumentType `gorm:"type:varchar(50);not null;default:'other'"` // Artifact taxonomy.

	StoragePath string `gorm:"type:text;not null"`  // Blob key in the configured storage.
	ContentType string `gorm:"type:varchar(100)"`   // MIME type of the blob.
	Size        int64  `gorm:"not null;default:0"` // Blob size in bytes.

	Data datatypes.JSON `gorm:"type:jsonb"` // Provider response kept for audit and reprint.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
