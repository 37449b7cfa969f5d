package usecase

import (
	"context"
	"time"
)

// ブローカーへのイベント発行。コミット後に呼ぶ
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event interface{}) error
}

// 処理済みの決済レシートを覚えておく
type ReceiptStore interface {
	Seen(ctx context.Context, orderID int64, receipt string) (bool, error)
	Remember(ctx context.Context, orderID int64, receipt string) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID() string
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// 実時間
var SystemClock Clock = systemClock{}
