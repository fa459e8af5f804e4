package types

import (
	"time"

	"github.com/google/uuid"
)

// ModuleFunction is one declared function of a module, keyed by (module, name).
type ModuleFunction struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ModuleID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_module_function_name" json:"module_id"`
	Module     *Module   `gorm:"constraint:OnDelete:CASCADE;foreignKey:ModuleID;references:ID" json:"module,omitempty"`
	Name       string    `gorm:"not null;uniqueIndex:idx_module_function_name" json:"name"`
	Visibility string    `gorm:"not null;default:private" json:"visibility"`
	IsEntry    bool      `gorm:"not null;default:false" json:"is_entry"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

func (ModuleFunction) TableName() string {
	return "module_function"
}
