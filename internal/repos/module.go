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

type ModuleRepo interface {
	UpsertByFullName(ctx context.Context, tx *gorm.DB, module *types.Module) (*types.Module, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Module, error)
	GetByFullName(ctx context.Context, tx *gorm.DB, fullName string) (*types.Module, error)
	// ResolveRef accepts either a module id or a full name
	// ("package_address::module_name"). Callers pass either; the id is
	// tried first, then the natural key.
	ResolveRef(ctx context.Context, tx *gorm.DB, ref string) (*types.Module, error)
	ListByPackageID(ctx context.Context, tx *gorm.DB, packageID uuid.UUID) ([]*types.Module, error)
	ListBatch(ctx context.Context, tx *gorm.DB, offset, limit int) ([]*types.Module, error)
	Count(ctx context.Context, tx *gorm.DB) (int64, error)
	UpdateSource(ctx context.Context, tx *gorm.DB, id uuid.UUID, sourceCode string) error
	UpdateExplanation(ctx context.Context, tx *gorm.DB, id uuid.UUID, explanation string, ultraSummary *string, status string) error
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error
}

type moduleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewModuleRepo(db *gorm.DB, baseLog *logger.Logger) ModuleRepo {
	return &moduleRepo{db: db, log: baseLog.With("repo", "ModuleRepo")}
}

func (r *moduleRepo) UpsertByFullName(ctx context.Context, tx *gorm.DB, module *types.Module) (*types.Module, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	if module.ID == uuid.Nil {
		module.ID = uuid.New()
	}
	if module.CreatedAt.IsZero() {
		module.CreatedAt = now
	}
	module.UpdatedAt = now
	// Explanation fields are owned by the explainer; a graph re-run must not
	// clobber them, so the conflict update touches structure columns only.
	if err := transaction.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "full_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "package_id", "friends", "flags", "updated_at"}),
	}).Create(module).Error; err != nil {
		return nil, err
	}
	return r.GetByFullName(ctx, transaction, module.FullName)
}

func (r *moduleRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Module, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var m types.Module
	if err := transaction.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("module %s", id)
		}
		return nil, err
	}
	return &m, nil
}

func (r *moduleRepo) GetByFullName(ctx context.Context, tx *gorm.DB, fullName string) (*types.Module, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var m types.Module
	if err := transaction.WithContext(ctx).Where("full_name = ?", fullName).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("module %s", fullName)
		}
		return nil, err
	}
	return &m, nil
}

func (r *moduleRepo) ResolveRef(ctx context.Context, tx *gorm.DB, ref string) (*types.Module, error) {
	if id, err := uuid.Parse(ref); err == nil {
		m, err := r.GetByID(ctx, tx, id)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}
	return r.GetByFullName(ctx, tx, ref)
}

func (r *moduleRepo) ListByPackageID(ctx context.Context, tx *gorm.DB, packageID uuid.UUID) ([]*types.Module, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Module
	if err := transaction.WithContext(ctx).
		Where("package_id = ?", packageID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *moduleRepo) ListBatch(ctx context.Context, tx *gorm.DB, offset, limit int) ([]*types.Module, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Module
	if err := transaction.WithContext(ctx).
		Order("created_at ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *moduleRepo) Count(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(ctx).Model(&types.Module{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *moduleRepo) UpdateSource(ctx context.Context, tx *gorm.DB, id uuid.UUID, sourceCode string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.Module{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"source_code": sourceCode,
			"updated_at":  time.Now().UTC(),
		}).Error
}

func (r *moduleRepo) UpdateExplanation(ctx context.Context, tx *gorm.DB, id uuid.UUID, explanation string, ultraSummary *string, status string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	updates := map[string]any{
		"explanation":        explanation,
		"explanation_status": status,
		"updated_at":         time.Now().UTC(),
	}
	if ultraSummary != nil {
		updates["ultra_summary"] = *ultraSummary
	}
	return transaction.WithContext(ctx).Model(&types.Module{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *moduleRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.Module{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"explanation_status": status,
			"updated_at":         time.Now().UTC(),
		}).Error
}
