package repository

import (
	"agriconnect/internal/domain/model"
	"context"
)

// 保存・取得を約束
type UserRepository interface {
	//新規ユーザー作成
	Create(ctx context.Context, user *model.User) error
	// IDからユーザーを1件取得する。
	FindByID(ctx context.Context, userID int64) (*model.User, error)
	FindByIDs(ctx context.Context, userIDs []int64) ([]model.User, error)
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	List(ctx context.Context) ([]model.User, error)

	//取引（注文）またはメッセージのある相手ロールのユーザー
	ListCounterparts(ctx context.Context, userID int64, self model.Role) ([]model.User, error)
}
