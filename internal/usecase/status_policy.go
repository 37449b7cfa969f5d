package usecase

import (
	"fmt"

	"agriconnect/internal/config"
	"agriconnect/internal/domain/model"
)

// 注文ステータスの遷移を許可するかどうか
type StatusPolicy interface {
	Allow(from model.OrderStatus, to model.OrderStatus) bool
	Name() string
}

// 定義済みのステータス間ならどこへでも移れる
type PermissivePolicy struct{}

func (PermissivePolicy) Allow(from model.OrderStatus, to model.OrderStatus) bool { return true }
func (PermissivePolicy) Name() string                                            { return config.PolicyPermissive }

// 遷移表で許可されたものだけ
type TablePolicy struct {
	name  string
	table map[model.OrderStatus]map[model.OrderStatus]bool
}

func (p *TablePolicy) Allow(from model.OrderStatus, to model.OrderStatus) bool {
	return p.table[from][to]
}

func (p *TablePolicy) Name() string { return p.name }

// pending→confirmed→shipped→delivered、cancelledはpending/confirmedから
func NewStrictPolicy() *TablePolicy {
	return &TablePolicy{
		name: config.PolicyStrict,
		table: map[model.OrderStatus]map[model.OrderStatus]bool{
			model.OrderStatusPending: {
				model.OrderStatusConfirmed: true,
				model.OrderStatusCancelled: true,
			},
			model.OrderStatusConfirmed: {
				model.OrderStatusShipped:   true,
				model.OrderStatusCancelled: true,
			},
			model.OrderStatusShipped: {
				model.OrderStatusDelivered: true,
			},
		},
	}
}

// ポリシーファイルから遷移表を作る。未定義のステータス名はエラー
func NewTablePolicy(f config.StatusPolicyFile) (*TablePolicy, error) {
	table := make(map[model.OrderStatus]map[model.OrderStatus]bool, len(f.Transitions))
	for fromRaw, tos := range f.Transitions {
		from, ok := model.ParseOrderStatus(fromRaw)
		if !ok {
			return nil, fmt.Errorf("unknown status %q in policy", fromRaw)
		}
		table[from] = make(map[model.OrderStatus]bool, len(tos))
		for _, toRaw := range tos {
			to, ok := model.ParseOrderStatus(toRaw)
			if !ok {
				return nil, fmt.Errorf("unknown status %q in policy", toRaw)
			}
			table[from][to] = true
		}
	}
	return &TablePolicy{name: config.PolicyFile, table: table}, nil
}

// 設定からポリシーを選ぶ
func NewStatusPolicy(cfg config.Config) (StatusPolicy, error) {
	switch cfg.StatusPolicy {
	case config.PolicyStrict:
		return NewStrictPolicy(), nil
	case config.PolicyFile:
		f, err := config.LoadStatusPolicyFile(cfg.StatusPolicyFile)
		if err != nil {
			return nil, err
		}
		return NewTablePolicy(f)
	default:
		return PermissivePolicy{}, nil
	}
}
