package usecase

import (
	"context"
	"errors"
	"strings"

	"agriconnect/internal/domain/model"
	repo "agriconnect/internal/repository"
	"agriconnect/internal/validator"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

type ChatUsecase struct {
	messages repo.ChatMessageRepository
	users    repo.UserRepository
	clock    Clock
}

func NewChatUsecase(messages repo.ChatMessageRepository, users repo.UserRepository, clock Clock) *ChatUsecase {
	return &ChatUsecase{messages: messages, users: users, clock: clock}
}

type ConversationOutput struct {
	Messages    []model.ChatMessage `json:"messages"`
	Total       int64               `json:"total"`
	Pages       int64               `json:"pages"`
	CurrentPage int                 `json:"current_page"`
}

type CounterpartOutput struct {
	ID       int64      `json:"id"`
	Username string     `json:"username"`
	Role     model.Role `json:"user_type"`
	FarmName string     `json:"farm_name,omitempty"`
}

// 2人の会話を新しい順にページングして返す
func (u *ChatUsecase) Conversation(ctx context.Context, actor Actor, otherID int64, page int, perPage int) (ConversationOutput, error) {
	if otherID <= 0 {
		return ConversationOutput{}, invalidInput("invalid user id")
	}
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	msgs, total, err := u.messages.ListConversation(ctx, actor.UserID, otherID, page, perPage)
	if err != nil {
		return ConversationOutput{}, internalError(err)
	}
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}

	pages := (total + int64(perPage) - 1) / int64(perPage)
	return ConversationOutput{
		Messages:    msgs,
		Total:       total,
		Pages:       pages,
		CurrentPage: page,
	}, nil
}

func (u *ChatUsecase) Send(ctx context.Context, actor Actor, receiverID int64, text string) (model.ChatMessage, error) {
	if receiverID <= 0 {
		return model.ChatMessage{}, invalidInput("invalid receiver id")
	}
	if receiverID == actor.UserID {
		return model.ChatMessage{}, invalidInput("cannot message yourself")
	}
	text = strings.TrimSpace(text)
	if err := validator.Text("message", text, 2000); err != nil {
		return model.ChatMessage{}, invalidInput(err.Error())
	}

	if _, err := u.users.FindByID(ctx, receiverID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.ChatMessage{}, notFound("receiver")
		}
		return model.ChatMessage{}, internalError(err)
	}

	m := &model.ChatMessage{
		SenderID:   actor.UserID,
		ReceiverID: receiverID,
		Message:    text,
		CreatedAt:  u.clock.Now(),
	}
	if err := u.messages.Create(ctx, m); err != nil {
		return model.ChatMessage{}, internalError(err)
	}
	return *m, nil
}

// senderから自分宛ての未読を既読にする
func (u *ChatUsecase) MarkRead(ctx context.Context, actor Actor, senderID int64) (int64, error) {
	if senderID <= 0 {
		return 0, invalidInput("sender_id is required")
	}
	n, err := u.messages.MarkRead(ctx, senderID, actor.UserID)
	if err != nil {
		return 0, internalError(err)
	}
	return n, nil
}

// 取引またはメッセージのある相手
func (u *ChatUsecase) Counterparts(ctx context.Context, actor Actor) ([]CounterpartOutput, error) {
	users, err := u.users.ListCounterparts(ctx, actor.UserID, actor.Role)
	if err != nil {
		return nil, internalError(err)
	}
	return toCounterparts(users), nil
}

func toCounterparts(users []model.User) []CounterpartOutput {
	out := make([]CounterpartOutput, 0, len(users))
	for _, us := range users {
		out = append(out, CounterpartOutput{
			ID:       us.ID,
			Username: us.Username,
			Role:     us.Role,
			FarmName: us.FarmName,
		})
	}
	return out
}
