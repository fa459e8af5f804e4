package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AnalysisEdge is one coarse module-call edge of an analysis. Enrichment
// augments Evidence with precise function-level calls; it never replaces it.
type AnalysisEdge struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AnalysisID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"analysis_id"`
	Analysis     *Analysis      `gorm:"constraint:OnDelete:CASCADE;foreignKey:AnalysisID;references:ID" json:"analysis,omitempty"`
	SourceModule string         `gorm:"not null;index" json:"source_module"`
	TargetModule string         `gorm:"not null" json:"target_module"`
	Evidence     datatypes.JSON `gorm:"type:jsonb" json:"evidence,omitempty"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
}

func (AnalysisEdge) TableName() string {
	return "analysis_edge"
}

// PreciseCall is one enriched (caller function -> callee) triple stored in
// the edge evidence blob under "calls".
type PreciseCall struct {
	CallerFunction string `json:"caller_function"`
	CalleeModule   string `json:"callee_module"`
	CalleeFunction string `json:"callee_function"`
}
