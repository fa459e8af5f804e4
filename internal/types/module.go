package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Module is a Move compilation unit, identified by package_address::module_name.
type Module struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	FullName          string         `gorm:"uniqueIndex;not null" json:"full_name"`
	Name              string         `gorm:"not null" json:"name"`
	PackageID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"package_id"`
	Package           *Package       `gorm:"constraint:OnDelete:CASCADE;foreignKey:PackageID;references:ID" json:"package,omitempty"`
	SourceCode        *string        `gorm:"column:source_code" json:"source_code,omitempty"`
	Explanation       *string        `gorm:"column:explanation" json:"explanation,omitempty"`
	UltraSummary      *string        `gorm:"column:ultra_summary" json:"ultra_summary,omitempty"`
	ExplanationStatus string         `gorm:"not null;default:none" json:"explanation_status"`
	Friends           datatypes.JSON `gorm:"type:jsonb" json:"friends,omitempty"`
	Flags             datatypes.JSON `gorm:"type:jsonb" json:"flags,omitempty"`
	CreatedAt         time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null" json:"updated_at"`
}

func (Module) TableName() string {
	return "module"
}

// SentinelModuleName is the module-name placeholder used to address
// package-level documents, so they never collide with real modules.
const SentinelModuleName = "__package__"

func SentinelModuleFullName(packageAddress string) string {
	return fmt.Sprintf("%s::%s", packageAddress, SentinelModuleName)
}

// SplitModuleFullName parses "package_address::module_name".
func SplitModuleFullName(fullName string) (packageAddress, moduleName string, ok bool) {
	idx := strings.Index(fullName, "::")
	if idx <= 0 || idx+2 >= len(fullName) {
		return "", "", false
	}
	return fullName[:idx], fullName[idx+2:], true
}
