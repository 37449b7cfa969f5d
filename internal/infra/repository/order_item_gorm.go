package repository

import (
	"context"

	"agriconnect/internal/domain/model"
	repo "agriconnect/internal/repository"

	"gorm.io/gorm"
)

type OrderItemGormRepository struct {
	db *gorm.DB
}

func NewOrderItemGormRepository(db *gorm.DB) *OrderItemGormRepository {
	return &OrderItemGormRepository{db: db}
}

func (r *OrderItemGormRepository) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].OrderID = orderID
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *OrderItemGormRepository) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	var items []model.OrderItem
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id asc").Find(&items).Error
	if err != nil {
		return []model.OrderItem{}, err
	}
	return items, nil
}

func (r *OrderItemGormRepository) ListDetailsByOrderID(ctx context.Context, orderID int64) ([]repo.OrderItemDetail, error) {
	var rows []repo.OrderItemDetail
	err := r.db.WithContext(ctx).
		Table("order_items").
		Select(`order_items.id, order_items.order_id, order_items.product_id,
			order_items.product_name_snapshot, order_items.unit_price_snapshot, order_items.quantity,
			products.farmer_id AS farmer_id, COALESCE(users.username, '') AS farmer_name`).
		Joins("JOIN products ON products.id = order_items.product_id").
		Joins("LEFT JOIN users ON users.id = products.farmer_id").
		Where("order_items.order_id = ?", orderID).
		Order("order_items.id asc").
		Scan(&rows).Error
	if err != nil {
		return []repo.OrderItemDetail{}, err
	}
	return rows, nil
}

func (r *OrderItemGormRepository) ExistsForFarmer(ctx context.Context, orderID int64, farmerID int64) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Table("order_items").
		Joins("JOIN products ON products.id = order_items.product_id").
		Where("order_items.order_id = ? AND products.farmer_id = ?", orderID, farmerID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ repo.OrderItemRepository = (*OrderItemGormRepository)(nil)
