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

type PackageRepo interface {
	UpsertByAddress(ctx context.Context, tx *gorm.DB, pkg *types.Package) (*types.Package, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Package, error)
	GetByAddress(ctx context.Context, tx *gorm.DB, address string) (*types.Package, error)
	// ResolveRef accepts either a package id or an on-chain address.
	ResolveRef(ctx context.Context, tx *gorm.DB, ref string) (*types.Package, error)
	UpdateExplanation(ctx context.Context, tx *gorm.DB, id uuid.UUID, explanation string, status string) error
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error
}

type packageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPackageRepo(db *gorm.DB, baseLog *logger.Logger) PackageRepo {
	return &packageRepo{db: db, log: baseLog.With("repo", "PackageRepo")}
}

func (r *packageRepo) UpsertByAddress(ctx context.Context, tx *gorm.DB, pkg *types.Package) (*types.Package, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	if pkg.ID == uuid.Nil {
		pkg.ID = uuid.New()
	}
	if pkg.CreatedAt.IsZero() {
		pkg.CreatedAt = now
	}
	pkg.UpdatedAt = now
	if err := transaction.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "network", "updated_at"}),
	}).Create(pkg).Error; err != nil {
		return nil, err
	}
	// Re-read so callers get the canonical row id on conflict.
	return r.GetByAddress(ctx, transaction, pkg.Address)
}

func (r *packageRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Package, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var pkg types.Package
	if err := transaction.WithContext(ctx).Where("id = ?", id).First(&pkg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("package %s", id)
		}
		return nil, err
	}
	return &pkg, nil
}

func (r *packageRepo) GetByAddress(ctx context.Context, tx *gorm.DB, address string) (*types.Package, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var pkg types.Package
	if err := transaction.WithContext(ctx).Where("address = ?", address).First(&pkg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("package %s", address)
		}
		return nil, err
	}
	return &pkg, nil
}

func (r *packageRepo) ResolveRef(ctx context.Context, tx *gorm.DB, ref string) (*types.Package, error) {
	if id, err := uuid.Parse(ref); err == nil {
		pkg, err := r.GetByID(ctx, tx, id)
		if err == nil {
			return pkg, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}
	return r.GetByAddress(ctx, tx, ref)
}

func (r *packageRepo) UpdateExplanation(ctx context.Context, tx *gorm.DB, id uuid.UUID, explanation string, status string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.Package{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"explanation":        explanation,
			"explanation_status": status,
			"updated_at":         time.Now().UTC(),
		}).Error
}

func (r *packageRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.Package{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"explanation_status": status,
			"updated_at":         time.Now().UTC(),
		}).Error
}
