package repository

import (
	"agriconnect/internal/domain/model"
	"context"
)

type ChatMessageRepository interface {
	//2人の会話（新しい順）と総件数
	ListConversation(ctx context.Context, userID int64, otherID int64, page int, perPage int) ([]model.ChatMessage, int64, error)
	Create(ctx context.Context, m *model.ChatMessage) error
	//senderからreceiverへの未読を既読にする
	MarkRead(ctx context.Context, senderID int64, receiverID int64) (int64, error)
}
