package repository

import (
	"context"

	"agriconnect/internal/domain/model"

	"github.com/shopspring/decimal"
)

// 明細＋商品の出品者（表示用）
type OrderItemDetail struct {
	ID                  int64
	OrderID             int64
	ProductID           int64
	ProductNameSnapshot string
	UnitPriceSnapshot   decimal.Decimal
	Quantity            int64
	FarmerID            int64
	FarmerName          string
}

type OrderItemRepository interface {
	CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error
	ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error)
	ListDetailsByOrderID(ctx context.Context, orderID int64) ([]OrderItemDetail, error)

	//注文にこの農家の商品が含まれるか（商品の所有から毎回判定）
	ExistsForFarmer(ctx context.Context, orderID int64, farmerID int64) (bool, error)
}
