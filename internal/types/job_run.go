package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Job statuses.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// JobRun is one background job. The worker claims queued rows and reclaims
// stale running ones.
type JobRun struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobType     string         `gorm:"not null;index" json:"job_type"`
	Status      string         `gorm:"not null;default:queued;index" json:"status"`
	Payload     datatypes.JSON `gorm:"type:jsonb" json:"payload,omitempty"`
	Result      datatypes.JSON `gorm:"type:jsonb" json:"result,omitempty"`
	Progress    int            `gorm:"not null;default:0" json:"progress"`
	Stage       string         `gorm:"" json:"stage,omitempty"`
	Error       *string        `gorm:"column:error" json:"error,omitempty"`
	Attempts    int            `gorm:"not null;default:0" json:"attempts"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	HeartbeatAt *time.Time     `json:"heartbeat_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (JobRun) TableName() string {
	return "job_run"
}
