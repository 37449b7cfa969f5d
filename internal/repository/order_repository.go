package repository

import (
	"context"

	"agriconnect/internal/domain/model"
)

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	ListByBuyerID(ctx context.Context, buyerID int64) ([]model.Order, error)
	//農家の商品を1つ以上含む注文
	ListBySellerID(ctx context.Context, farmerID int64) ([]model.Order, error)
	Create(ctx context.Context, order model.Order) (int64, error)

	//現在のステータスがfromのときだけ更新する
	UpdateStatus(ctx context.Context, orderID int64, from model.OrderStatus, to model.OrderStatus) (bool, error)

	//pendingのときだけconfirmedにしてレシートを保存する
	ConfirmPayment(ctx context.Context, orderID int64, receipt string) (bool, error)

	//検索（同じキーなら同じ結果を返す）
	FindByIdempotencyKey(ctx context.Context, buyerID int64, key string) (model.Order, bool, error)
}
