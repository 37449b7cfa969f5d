package repository

import (
	"agriconnect/internal/domain/model"
	domainrepo "agriconnect/internal/repository"
	"context"

	"gorm.io/gorm"
)

type userGormRepository struct {
	db *gorm.DB
}

// DI
// main.goでこれをnewしてusecaseに注入します。
func NewUserGormRepository(db *gorm.DB) domainrepo.UserRepository {
	return &userGormRepository{db: db}
}

// Create はユーザーを新規作成
func (r *userGormRepository) Create(ctx context.Context, user *model.User) error {
	return translate(r.db.WithContext(ctx).Create(user).Error)
}

func (r *userGormRepository) findOne(ctx context.Context, query string, arg interface{}) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).Where(query, arg).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// IDでユーザーを1件取得
func (r *userGormRepository) FindByID(ctx context.Context, id int64) (*model.User, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *userGormRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, "username = ?", username)
}

// emailでユーザーを1件取得
func (r *userGormRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, "email = ?", email)
}

func (r *userGormRepository) FindByIDs(ctx context.Context, ids []int64) ([]model.User, error) {
	if len(ids) == 0 {
		return []model.User{}, nil
	}
	var users []model.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *userGormRepository) List(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Order("id asc").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// 農家→自分の商品を買った買い手、買い手→買った商品の農家。
// どちらも自分にメッセージを送ってきた相手ロールのユーザーを足す。
func (r *userGormRepository) ListCounterparts(ctx context.Context, userID int64, self model.Role) ([]model.User, error) {
	base := r.db.Session(&gorm.Session{NewDB: true})

	var traded *gorm.DB
	other := model.RoleFarmer
	if self == model.RoleFarmer {
		other = model.RoleBuyer
		traded = base.Table("orders").
			Select("orders.buyer_id").
			Joins("JOIN order_items ON order_items.order_id = orders.id").
			Joins("JOIN products ON products.id = order_items.product_id").
			Where("products.farmer_id = ?", userID)
	} else {
		traded = base.Table("products").
			Select("products.farmer_id").
			Joins("JOIN order_items ON order_items.product_id = products.id").
			Joins("JOIN orders ON orders.id = order_items.order_id").
			Where("orders.buyer_id = ?", userID)
	}

	senders := base.Table("chat_messages").
		Select("chat_messages.sender_id").
		Where("chat_messages.receiver_id = ?", userID)

	var users []model.User
	err := r.db.WithContext(ctx).
		Where("user_type = ?", other).
		Where("id <> ?", userID).
		Where(base.Where("id IN (?)", traded).Or("id IN (?)", senders)).
		Order("id asc").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}
