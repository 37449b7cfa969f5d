package model

import "time"

type Role string

const (
	RoleFarmer Role = "farmer"
	RoleBuyer  Role = "buyer"
)

// 注文できるロールか
func (r Role) CanOrder() bool {
	return r == RoleFarmer || r == RoleBuyer
}

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleFarmer, RoleBuyer:
		return Role(s), true
	default:
		return "", false
	}
}

type User struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"type:varchar(80);uniqueIndex;not null" json:"username"`
	Email        string    `gorm:"type:varchar(120);uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"column:password_hash;not null" json:"-"`
	Role         Role      `gorm:"column:user_type;type:varchar(20);not null;index" json:"user_type"`
	FarmName     string    `gorm:"type:varchar(100)" json:"farm_name,omitempty"`
	Location     string    `gorm:"type:varchar(200)" json:"location,omitempty"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
