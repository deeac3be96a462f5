package models

import "time"

// RCACompany is an insurer offering RCA and Green Card policies.
type RCACompany struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name     string `gorm:"type:varchar(255);not null"`                        // Company display name.
	IDNO     string `gorm:"column:idno;type:varchar(50);not null;uniqueIndex"` // Registration number.
	IsActive bool   `gorm:"not null;default:true"`                             // Whether quotes are offered.
	IsPublic bool   `gorm:"not null;default:true"`                             // Whether the company is shown to users.
	LogoURL  string `gorm:"type:text"`                                         // Optional logo location.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName overrides the default table name.
func (RCACompany) TableName() string {
	return "rca_companies"
}

// MedicalInsuranceCompany is an insurer offering travel medical policies.
type MedicalInsuranceCompany struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name     string `gorm:"type:varchar(255);not null"`                        // Company display name.
	IDNO     string `gorm:"column:idno;type:varchar(50);not null;uniqueIndex"` // Registration number.
	IsActive bool   `gorm:"not null;default:true"`                             // Whether quotes are offered.
	IsPublic bool   `gorm:"not null;default:true"`                             // Whether the company is shown to users.
	LogoURL  string `gorm:"type:text"`                                         // Optional logo location.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
