package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/movescan/movescan-backend/internal/apperrors"
	"github.com/movescan/movescan-backend/internal/logger"
	"github.com/movescan/movescan-backend/internal/types"
)

type GlobalSummaryRepo interface {
	GetByAnalysisID(ctx context.Context, tx *gorm.DB, analysisID uuid.UUID) (*types.GlobalAnalysisSummary, error)
	Upsert(ctx context.Context, tx *gorm.DB, summary *types.GlobalAnalysisSummary) (*types.GlobalAnalysisSummary, error)
}

type globalSummaryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGlobalSummaryRepo(db *gorm.DB, baseLog *logger.Logger) GlobalSummaryRepo {
	return &globalSummaryRepo{db: db, log: baseLog.With("repo", "GlobalSummaryRepo")}
}

func (r *globalSummaryRepo) GetByAnalysisID(ctx context.Context, tx *gorm.DB, analysisID uuid.UUID) (*types.GlobalAnalysisSummary, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var s types.GlobalAnalysisSummary
	if err := transaction.WithContext(ctx).Where("analysis_id = ?", analysisID).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("global summary for analysis %s", analysisID)
		}
		return nil, err
	}
	return &s, nil
}

func (r *globalSummaryRepo) Upsert(ctx context.Context, tx *gorm.DB, summary *types.GlobalAnalysisSummary) (*types.GlobalAnalysisSummary, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	if summary.ID == uuid.Nil {
		summary.ID = uuid.New()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = now
	}
	summary.UpdatedAt = now
	if err := transaction.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "analysis_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"primary_package_id", "summary", "updated_at"}),
	}).Create(summary).Error; err != nil {
		return nil, err
	}
	return r.GetByAnalysisID(ctx, transaction, summary.AnalysisID)
}
