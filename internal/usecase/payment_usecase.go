package usecase

import (
	"context"
	"errors"
	"log/slog"

	"agriconnect/internal/domain/event"
	"agriconnect/internal/domain/model"
	repo "agriconnect/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

type PaymentResult string

const (
	//pending → confirmed に更新した
	PaymentApplied PaymentResult = "applied"
	//同じレシートで確定済み
	PaymentDuplicate PaymentResult = "duplicate"
	//pending以外なので何もしない
	PaymentIgnored PaymentResult = "ignored"
	//ゲートウェイ側で支払い失敗
	PaymentFailed PaymentResult = "payment_failed"
)

type PaymentOutcome struct {
	OrderID int64         `json:"order_id,omitempty"`
	Receipt string        `json:"receipt,omitempty"`
	Result  PaymentResult `json:"result"`
	Status  string        `json:"status,omitempty"`
	Message string        `json:"message"`
}

type PaymentUsecase struct {
	tx            repo.TransactionManager
	receipts      ReceiptStore
	publisher     EventPublisher
	ids           IDGenerator
	clock         Clock
	logger        *slog.Logger
	accountPrefix string
}

func NewPaymentUsecase(
	tx repo.TransactionManager,
	receipts ReceiptStore,
	publisher EventPublisher,
	ids IDGenerator,
	clock Clock,
	logger *slog.Logger,
	accountPrefix string,
) *PaymentUsecase {
	return &PaymentUsecase{
		tx:            tx,
		receipts:      receipts,
		publisher:     publisher,
		ids:           ids,
		clock:         clock,
		logger:        logger,
		accountPrefix: accountPrefix,
	}
}

// 決済通知を注文ステータスに反映する。
// 返すエラーは必ず*AppError（MalformedCallback / NotFound / Internal）
func (u *PaymentUsecase) HandlePaymentNotification(ctx context.Context, raw []byte) (PaymentOutcome, error) {
	ctx, span := tracer.Start(ctx, "PaymentUsecase.HandlePaymentNotification")
	defer span.End()

	n, err := ParsePaymentNotification(raw, u.accountPrefix)
	if err != nil {
		u.logger.WarnContext(ctx, "payment callback rejected", slog.String("error", err.Error()))
		return PaymentOutcome{}, recordFailure(span, u.logger, "payment callback rejected", err)
	}
	span.SetAttributes(attribute.Int64("order.id", n.OrderID), attribute.Int("payment.result_code", n.ResultCode))

	if !n.Succeeded() {
		u.logger.WarnContext(ctx, "payment not successful",
			slog.Int64("order_id", n.OrderID),
			slog.Int("result_code", n.ResultCode),
			slog.String("result_desc", n.ResultDesc),
			slog.String("checkout_request_id", n.CheckoutRequestID),
		)
		return PaymentOutcome{OrderID: n.OrderID, Result: PaymentFailed, Message: "payment not successful"}, nil
	}

	//処理済みレシートはDBまで行かない。Redisの失敗は無視してDBで判定する
	seen, err := u.receipts.Seen(ctx, n.OrderID, n.Receipt)
	if err != nil {
		u.logger.WarnContext(ctx, "receipt store lookup failed", slog.String("error", err.Error()))
	}
	// 現在のステータスは読まないのでStatusは返さない
	if seen {
		return PaymentOutcome{
			OrderID: n.OrderID,
			Receipt: n.Receipt,
			Result:  PaymentDuplicate,
			Message: "Callback already processed",
		}, nil
	}

	out := PaymentOutcome{OrderID: n.OrderID, Receipt: n.Receipt}

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		applied, err := r.Orders().ConfirmPayment(ctx, n.OrderID, n.Receipt)
		if err != nil {
			return internalError(err)
		}

		if applied {
			out.Result = PaymentApplied
			out.Status = string(model.OrderStatusConfirmed)
			return r.AuditLogs().Create(ctx, model.AuditLog{
				ActorUserID:  model.SystemActorID,
				Action:       model.AuditActionConfirmPayment,
				ResourceType: model.AuditResourceOrder,
				ResourceID:   n.OrderID,
				BeforeJSON:   statusJSON(model.OrderStatusPending, ""),
				AfterJSON:    statusJSON(model.OrderStatusConfirmed, n.Receipt),
				CreatedAt:    u.clock.Now(),
			})
		}

		//更新されなかった理由を調べる（存在しない / 確定済み / その他の状態）
		o, err := r.Orders().FindByID(ctx, n.OrderID)
		if errors.Is(err, repo.ErrNotFound) {
			return notFound("order")
		}
		if err != nil {
			return internalError(err)
		}
		out.Status = string(o.Status)
		if o.Status == model.OrderStatusConfirmed && o.PaymentReceipt == n.Receipt {
			out.Result = PaymentDuplicate
		} else {
			out.Result = PaymentIgnored
		}
		return nil
	})
	if err != nil {
		u.logger.WarnContext(ctx, "payment callback failed",
			slog.Int64("order_id", n.OrderID),
			slog.String("receipt", n.Receipt),
			slog.String("error", err.Error()),
		)
		return PaymentOutcome{}, recordFailure(span, u.logger, "payment callback failed", err, slog.Int64("order_id", n.OrderID))
	}

	span.SetAttributes(attribute.String("payment.result", string(out.Result)))

	switch out.Result {
	case PaymentApplied:
		out.Message = "Callback processed successfully"
		u.logger.InfoContext(ctx, "payment confirmed", slog.Int64("order_id", n.OrderID), slog.String("receipt", n.Receipt))
		if n.Amount != nil {
			span.SetAttributes(attribute.String("payment.amount", n.Amount.String()))
		}
		if err := u.publisher.Publish(ctx, event.OrderStatusRoutingKey, event.OrderStatusChanged{
			EventID:    u.ids.NewID(),
			OrderID:    n.OrderID,
			From:       model.OrderStatusPending,
			To:         model.OrderStatusConfirmed,
			ActorID:    model.SystemActorID,
			Source:     event.SourcePayment,
			Receipt:    n.Receipt,
			OccurredAt: u.clock.Now(),
		}); err != nil {
			u.logger.WarnContext(ctx, "publish order event failed", slog.String("error", err.Error()))
		}
	case PaymentDuplicate:
		out.Message = "Callback already processed"
	case PaymentIgnored:
		out.Message = "Order is not awaiting payment"
		u.logger.WarnContext(ctx, "payment callback ignored",
			slog.Int64("order_id", n.OrderID),
			slog.String("status", out.Status),
			slog.String("receipt", n.Receipt),
		)
	}

	if out.Result == PaymentApplied || out.Result == PaymentDuplicate {
		if err := u.receipts.Remember(ctx, n.OrderID, n.Receipt); err != nil {
			u.logger.WarnContext(ctx, "receipt store write failed", slog.String("error", err.Error()))
		}
	}
	return out, nil
}
