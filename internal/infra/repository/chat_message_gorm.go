package repository

import (
	"context"

	"agriconnect/internal/domain/model"
	repo "agriconnect/internal/repository"

	"gorm.io/gorm"
)

type ChatMessageGormRepository struct {
	db *gorm.DB
}

func NewChatMessageGormRepository(db *gorm.DB) *ChatMessageGormRepository {
	return &ChatMessageGormRepository{db: db}
}

func (r *ChatMessageGormRepository) ListConversation(ctx context.Context, userID int64, otherID int64, page int, perPage int) ([]model.ChatMessage, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.ChatMessage{}).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userID, otherID, otherID, userID).
		Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return []model.ChatMessage{}, 0, err
	}

	var msgs []model.ChatMessage
	offset := (page - 1) * perPage
	err := q.Order("created_at desc").Order("id desc").
		Limit(perPage).
		Offset(offset).
		Find(&msgs).Error
	if err != nil {
		return []model.ChatMessage{}, 0, err
	}
	return msgs, total, nil
}

func (r *ChatMessageGormRepository) Create(ctx context.Context, m *model.ChatMessage) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *ChatMessageGormRepository) MarkRead(ctx context.Context, senderID int64, receiverID int64) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.ChatMessage{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", senderID, receiverID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

var _ repo.ChatMessageRepository = (*ChatMessageGormRepository)(nil)
