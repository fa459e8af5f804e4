package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/movescan/movescan-backend/internal/apperrors"
	"github.com/movescan/movescan-backend/internal/logger"
	"github.com/movescan/movescan-backend/internal/types"
)

type RagChatRepo interface {
	Create(ctx context.Context, tx *gorm.DB, chat *types.RagChat) (*types.RagChat, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.RagChat, error)
	// Delete removes the session and cascades to its messages.
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type ragChatRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRagChatRepo(db *gorm.DB, baseLog *logger.Logger) RagChatRepo {
	return &ragChatRepo{db: db, log: baseLog.With("repo", "RagChatRepo")}
}

func (r *ragChatRepo) Create(ctx context.Context, tx *gorm.DB, chat *types.RagChat) (*types.RagChat, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	if chat.ID == uuid.Nil {
		chat.ID = uuid.New()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	chat.UpdatedAt = now
	if err := transaction.WithContext(ctx).Create(chat).Error; err != nil {
		return nil, err
	}
	return chat, nil
}

func (r *ragChatRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.RagChat, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var chat types.RagChat
	if err := transaction.WithContext(ctx).Where("id = ?", id).First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("chat %s", id)
		}
		return nil, err
	}
	return &chat, nil
}

func (r *ragChatRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	// Messages first so sqlite (no FK cascade when disabled) behaves the
	// same as postgres.
	if err := transaction.WithContext(ctx).
		Where("chat_id = ?", id).
		Delete(&types.RagMessage{}).Error; err != nil {
		return err
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.RagChat{}).Error
}
