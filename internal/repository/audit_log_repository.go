package repository

import (
	"context"

	"agriconnect/internal/domain/model"
)

// 履歴1ページの上限
const (
	DefaultAuditPageSize = 50
	MaxAuditPageSize     = 200
)

// 1リソース分の監査ログを古い順に読む条件
type AuditLogFilter struct {
	ResourceType model.AuditResourceType
	ResourceID   int64
	Limit        int
	Offset       int
}

type AuditLogRepository interface {
	Create(ctx context.Context, log model.AuditLog) error
	// 古い順。Limitは1..MaxAuditPageSizeに丸める
	List(ctx context.Context, filter AuditLogFilter) ([]model.AuditLog, error)
}
