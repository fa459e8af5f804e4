package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/movescan/movescan-backend/internal/logger"
	"github.com/movescan/movescan-backend/internal/types"
)

type ModuleFunctionRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, fn *types.ModuleFunction) error
	ListByModuleID(ctx context.Context, tx *gorm.DB, moduleID uuid.UUID) ([]*types.ModuleFunction, error)
}

type moduleFunctionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewModuleFunctionRepo(db *gorm.DB, baseLog *logger.Logger) ModuleFunctionRepo {
	return &moduleFunctionRepo{db: db, log: baseLog.With("repo", "ModuleFunctionRepo")}
}

func (r *moduleFunctionRepo) Upsert(ctx context.Context, tx *gorm.DB, fn *types.ModuleFunction) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	if fn.ID == uuid.Nil {
		fn.ID = uuid.New()
	}
	if fn.CreatedAt.IsZero() {
		fn.CreatedAt = now
	}
	fn.UpdatedAt = now
	return transaction.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "module_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"visibility", "is_entry", "updated_at"}),
	}).Create(fn).Error
}

func (r *moduleFunctionRepo) ListByModuleID(ctx context.Context, tx *gorm.DB, moduleID uuid.UUID) ([]*types.ModuleFunction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ModuleFunction
	if err := transaction.WithContext(ctx).
		Where("module_id = ?", moduleID).
		Order("name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
