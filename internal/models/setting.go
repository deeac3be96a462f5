package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Setting stores a runtime-tunable value keyed by name.
type Setting struct {
	Key       string       `gorm:"type:varchar(255);primaryKey"` // Setting name.
	Value     SettingValue // JSON-encoded value.
	UpdatedAt time.Time    `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// SettingValue is a raw JSON document.
//
// SQLite applies numeric affinity to unknown column types, so a scalar such as 20
// comes back as an integer rather than text; Scan accepts both.
type SettingValue json.RawMessage

// GormDBDataType keeps the column textual on SQLite and jsonb on Postgres.
func (SettingValue) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db != nil && db.Dialector != nil && db.Dialector.Name() == "postgres" {
		return "jsonb"
	}
	return "text"
}

// Value implements driver.Valuer.
func (v SettingValue) Value() (driver.Value, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return string(v), nil
}

// Scan implements sql.Scanner.
func (v *SettingValue) Scan(src any) error {
	var raw string
	switch value := src.(type) {
	case nil:
		*v = nil
		return nil
	case []byte:
		raw = string(value)
	case string:
		raw = value
	case int64:
		raw = strconv.FormatInt(value, 10)
	case float64:
		raw = strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		raw = strconv.FormatBool(value)
	default:
		return fmt.Errorf("models: unsupported setting value type %T", src)
	}
	if !json.Valid([]byte(raw)) {
		return fmt.Errorf("models: setting value is not JSON: %q", raw)
	}
	*v = SettingValue(raw)
	return nil
}
