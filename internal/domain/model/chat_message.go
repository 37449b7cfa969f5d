package model

import "time"

type ChatMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SenderID   int64     `gorm:"not null;index" json:"sender_id"`
	ReceiverID int64     `gorm:"not null;index" json:"receiver_id"`
	Message    string    `gorm:"type:text;not null" json:"message"`
	Read       bool      `gorm:"column:is_read;not null;default:false" json:"read"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime;index" json:"timestamp"`
}
