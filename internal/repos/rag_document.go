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

type RagDocumentRepo interface {
	// Upsert writes the single row for (module_id, doc_type); re-indexing
	// replaces content and embedding, never inserts a duplicate.
	Upsert(ctx context.Context, tx *gorm.DB, doc *types.RagDocument) (*types.RagDocument, error)
	GetByModuleAndType(ctx context.Context, tx *gorm.DB, moduleID uuid.UUID, docType string) (*types.RagDocument, error)
	Exists(ctx context.Context, tx *gorm.DB, moduleID uuid.UUID, docType string) (bool, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.RagDocument, error)
}

type ragDocumentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRagDocumentRepo(db *gorm.DB, baseLog *logger.Logger) RagDocumentRepo {
	return &ragDocumentRepo{db: db, log: baseLog.With("repo", "RagDocumentRepo")}
}

func (r *ragDocumentRepo) Upsert(ctx context.Context, tx *gorm.DB, doc *types.RagDocument) (*types.RagDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if err := transaction.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "module_id"}, {Name: "doc_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"package_address", "module_name", "content", "embedding", "updated_at"}),
	}).Create(doc).Error; err != nil {
		return nil, err
	}
	return r.GetByModuleAndType(ctx, transaction, doc.ModuleID, doc.DocType)
}

func (r *ragDocumentRepo) GetByModuleAndType(ctx context.Context, tx *gorm.DB, moduleID uuid.UUID, docType string) (*types.RagDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var doc types.RagDocument
	if err := transaction.WithContext(ctx).
		Where("module_id = ? AND doc_type = ?", moduleID, docType).
		First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("rag document %s/%s", moduleID, docType)
		}
		return nil, err
	}
	return &doc, nil
}

func (r *ragDocumentRepo) Exists(ctx context.Context, tx *gorm.DB, moduleID uuid.UUID, docType string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(ctx).Model(&types.RagDocument{}).
		Where("module_id = ? AND doc_type = ?", moduleID, docType).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *ragDocumentRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.RagDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.RagDocument
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
