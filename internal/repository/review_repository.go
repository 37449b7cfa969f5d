package repository

import (
	"agriconnect/internal/domain/model"
	"context"
)

type ReviewRepository interface {
	List(ctx context.Context, productID *int64) ([]model.Review, error)
	FindByID(ctx context.Context, id int64) (model.Review, error)
	FindByUserAndProduct(ctx context.Context, userID int64, productID int64) (model.Review, bool, error)
	Create(ctx context.Context, r model.Review) (model.Review, error)
	Update(ctx context.Context, r model.Review) error
	Delete(ctx context.Context, id int64) error
}
