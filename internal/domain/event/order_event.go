package event

import (
	"time"

	"agriconnect/internal/domain/model"

	"github.com/shopspring/decimal"
)

// ルーティングキー（topic exchange）
const (
	OrderPlacedRoutingKey = "order.placed"
	OrderStatusRoutingKey = "order.status"
)

// 状態変更の発生元
type Source string

const (
	SourceFarmer  Source = "farmer"
	SourcePayment Source = "payment"
)

type OrderPlacedItem struct {
	ProductID int64           `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// 注文確定後に発行
type OrderPlaced struct {
	EventID     string            `json:"event_id"`
	OrderID     int64             `json:"order_id"`
	BuyerID     int64             `json:"buyer_id"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	Items       []OrderPlacedItem `json:"items"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// ステータス変更のコミット後に発行
type OrderStatusChanged struct {
	EventID    string            `json:"event_id"`
	OrderID    int64             `json:"order_id"`
	From       model.OrderStatus `json:"from"`
	To         model.OrderStatus `json:"to"`
	ActorID    int64             `json:"actor_id"`
	Source     Source            `json:"source"`
	Receipt    string            `json:"receipt,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
