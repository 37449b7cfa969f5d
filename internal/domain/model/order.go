package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// 定義済みのステータス
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

func ParseOrderStatus(s string) (OrderStatus, bool) {
	for _, st := range OrderStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

type Order struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	BuyerID        int64           `gorm:"not null;index;uniqueIndex:idx_orders_buyer_idem,priority:1" json:"buyer_id"`
	TotalAmount    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total_amount"`
	Status         OrderStatus     `gorm:"type:varchar(20);not null;index" json:"status"`
	PaymentReceipt string          `gorm:"type:varchar(50)" json:"payment_receipt"`
	PhoneNumber    string          `gorm:"type:varchar(15)" json:"phone_number"`
	IdempotencyKey *string         `gorm:"type:varchar(255);uniqueIndex:idx_orders_buyer_idem,priority:2" json:"-"` // 購入者ごとに一意
	CreatedAt      time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
