package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 出品商品。Quantityは残り在庫（0未満にならない）
type Product struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	FarmerID    int64           `gorm:"not null;index" json:"farmer_id"`
	Name        string          `gorm:"type:varchar(100);not null;index" json:"name"`
	Description string          `gorm:"type:text" json:"description"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Category    string          `gorm:"type:varchar(50);index" json:"category"`
	Quantity    int64           `gorm:"not null;default:0" json:"quantity"`
	ImageURL    string          `gorm:"type:varchar(200)" json:"image_url"`
	CreatedAt   time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt  `gorm:"index" json:"-"`
}
