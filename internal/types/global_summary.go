package types

import (
	"time"

	"github.com/google/uuid"
)

// GlobalAnalysisSummary is the one business-level summary per analysis.
// PrimaryPackageID records which package the summary was computed for, so a
// recomputed primary invalidates the cache without force.
type GlobalAnalysisSummary struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AnalysisID       uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"analysis_id"`
	PrimaryPackageID uuid.UUID `gorm:"type:uuid;not null" json:"primary_package_id"`
	Summary          string    `gorm:"not null" json:"summary"`
	// Reserved for future encryption; not populated by the pipeline.
	Ciphertext *string   `gorm:"column:ciphertext" json:"ciphertext,omitempty"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

func (GlobalAnalysisSummary) TableName() string {
	return "global_analysis_summary"
}
