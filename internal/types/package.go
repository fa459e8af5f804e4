package types

import (
	"time"

	"github.com/google/uuid"
)

// Explanation status values shared by Package and Module.
const (
	ExplanationNone    = "none"
	ExplanationPending = "pending"
	ExplanationDone    = "done"
	ExplanationError   = "error"
)

// Package is an on-chain deployed unit containing one or more modules.
// One row per distinct address, shared across analyses.
type Package struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Address           string    `gorm:"uniqueIndex;not null" json:"address"`
	Name              *string   `gorm:"column:name" json:"name,omitempty"`
	Network           string    `gorm:"not null;default:mainnet" json:"network"`
	Explanation       *string   `gorm:"column:explanation" json:"explanation,omitempty"`
	ExplanationStatus string    `gorm:"not null;default:none" json:"explanation_status"`
	CreatedAt         time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time `gorm:"not null" json:"updated_at"`
}

func (Package) TableName() string {
	return "package"
}
