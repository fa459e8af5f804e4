package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/movescan/movescan-backend/internal/logger"
	"github.com/movescan/movescan-backend/internal/types"
)

type AnalysisEdgeRepo interface {
	Create(ctx context.Context, tx *gorm.DB, edges []*types.AnalysisEdge) error
	ListByAnalysis(ctx context.Context, tx *gorm.DB, analysisID uuid.UUID) ([]*types.AnalysisEdge, error)
	UpdateEvidence(ctx context.Context, tx *gorm.DB, id uuid.UUID, evidence datatypes.JSON) error
}

type analysisEdgeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnalysisEdgeRepo(db *gorm.DB, baseLog *logger.Logger) AnalysisEdgeRepo {
	return &analysisEdgeRepo{db: db, log: baseLog.With("repo", "AnalysisEdgeRepo")}
}

func (r *analysisEdgeRepo) Create(ctx context.Context, tx *gorm.DB, edges []*types.AnalysisEdge) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(edges) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, e := range edges {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		e.UpdatedAt = now
	}
	return transaction.WithContext(ctx).Create(&edges).Error
}

func (r *analysisEdgeRepo) ListByAnalysis(ctx context.Context, tx *gorm.DB, analysisID uuid.UUID) ([]*types.AnalysisEdge, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.AnalysisEdge
	if err := transaction.WithContext(ctx).
		Where("analysis_id = ?", analysisID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *analysisEdgeRepo) UpdateEvidence(ctx context.Context, tx *gorm.DB, id uuid.UUID, evidence datatypes.JSON) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.AnalysisEdge{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"evidence":   evidence,
			"updated_at": time.Now().UTC(),
		}).Error
}
