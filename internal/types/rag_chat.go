package types

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// RagChat is a chat session, optionally scoped to an analysis, package
// and/or module. All scopes empty means a global session.
type RagChat struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	AnalysisID *uuid.UUID `gorm:"type:uuid;index" json:"analysis_id,omitempty"`
	PackageID  *uuid.UUID `gorm:"type:uuid" json:"package_id,omitempty"`
	ModuleID   *uuid.UUID `gorm:"type:uuid" json:"module_id,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null" json:"updated_at"`
}

func (RagChat) TableName() string {
	return "rag_chat"
}

// RagMessage is one chat turn. Messages are append-only and replayed in
// chronological order.
type RagMessage struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID    uuid.UUID `gorm:"type:uuid;not null;index" json:"chat_id"`
	Chat      *RagChat  `gorm:"constraint:OnDelete:CASCADE;foreignKey:ChatID;references:ID" json:"chat,omitempty"`
	Role      string    `gorm:"not null" json:"role"`
	Content   string    `gorm:"not null" json:"content"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (RagMessage) TableName() string {
	return "rag_message"
}
