package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/movescan/movescan-backend/internal/logger"
	"github.com/movescan/movescan-backend/internal/types"
)

type RagMessageRepo interface {
	Append(ctx context.Context, tx *gorm.DB, msg *types.RagMessage) (*types.RagMessage, error)
	// ListRecent returns the last `limit` messages of the chat,
	// oldest-first.
	ListRecent(ctx context.Context, tx *gorm.DB, chatID uuid.UUID, limit int) ([]*types.RagMessage, error)
	ListByChat(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) ([]*types.RagMessage, error)
}

type ragMessageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRagMessageRepo(db *gorm.DB, baseLog *logger.Logger) RagMessageRepo {
	return &ragMessageRepo{db: db, log: baseLog.With("repo", "RagMessageRepo")}
}

func (r *ragMessageRepo) Append(ctx context.Context, tx *gorm.DB, msg *types.RagMessage) (*types.RagMessage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if err := transaction.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *ragMessageRepo) ListRecent(ctx context.Context, tx *gorm.DB, chatID uuid.UUID, limit int) ([]*types.RagMessage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 10
	}
	var msgs []*types.RagMessage
	if err := transaction.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *ragMessageRepo) ListByChat(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) ([]*types.RagMessage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var msgs []*types.RagMessage
	if err := transaction.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
