package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Document types indexed per module.
const (
	DocTypeSource          = "source"
	DocTypeModuleAnalysis  = "module_analysis"
	DocTypePackageAnalysis = "package_analysis"
)

// RagDocument is the indexed unit: at most one row per (module, doc type).
// It is a derived, rebuildable index, never a source of truth. The vector
// index stores the embedding under this row's id.
type RagDocument struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ModuleID       uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_rag_document_module_doctype" json:"module_id"`
	DocType        string         `gorm:"not null;uniqueIndex:idx_rag_document_module_doctype" json:"doc_type"`
	PackageAddress string         `gorm:"not null;index" json:"package_address"`
	ModuleName     string         `gorm:"not null" json:"module_name"`
	Content        string         `gorm:"not null" json:"content"`
	Embedding      datatypes.JSON `gorm:"type:jsonb" json:"embedding,omitempty"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (RagDocument) TableName() string {
	return "rag_document"
}
