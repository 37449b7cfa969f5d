package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"agriconnect/internal/domain/event"
	"agriconnect/internal/domain/model"
	repo "agriconnect/internal/repository"
	"agriconnect/internal/validator"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("agriconnect/usecase")

const maxOrderLines = 100

// 同じ冪等キーで同時に作成された
var errIdempotencyRace = errors.New("idempotency key raced")

// 認証済みの操作ユーザー
type Actor struct {
	UserID int64
	Role   model.Role
}

type OrderOptions struct {
	RestockOnCancel bool
}

type OrderUsecase struct {
	tx        repo.TransactionManager
	users     repo.UserRepository
	policy    StatusPolicy
	publisher EventPublisher
	ids       IDGenerator
	clock     Clock
	logger    *slog.Logger
	opts      OrderOptions
}

func NewOrderUsecase(
	tx repo.TransactionManager,
	users repo.UserRepository,
	policy StatusPolicy,
	publisher EventPublisher,
	ids IDGenerator,
	clock Clock,
	logger *slog.Logger,
	opts OrderOptions,
) *OrderUsecase {
	return &OrderUsecase{
		tx:        tx,
		users:     users,
		policy:    policy,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		logger:    logger,
		opts:      opts,
	}
}

type OrderLineInput struct {
	ProductID int64
	Quantity  int64
}

type PlaceOrderInput struct {
	PhoneNumber    string
	Items          []OrderLineInput
	IdempotencyKey string
}

type PlaceOrderOutput struct {
	OrderID     int64           `json:"order_id"`
	Message     string          `json:"message"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type OrderItemOutput struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	FarmerID    int64           `json:"farmer_id"`
	FarmerName  string          `json:"farmer_name"`
}

type OrderOutput struct {
	ID             int64             `json:"id"`
	BuyerID        int64             `json:"buyer_id"`
	BuyerName      string            `json:"buyer_name"`
	TotalAmount    decimal.Decimal   `json:"total_amount"`
	Status         string            `json:"status"`
	PaymentReceipt *string           `json:"payment_receipt"`
	PhoneNumber    string            `json:"phone_number,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	Items          []OrderItemOutput `json:"items"`
}

type UpdateOrderStatusOutput struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

func (u *OrderUsecase) PlaceOrder(ctx context.Context, actor Actor, in PlaceOrderInput) (PlaceOrderOutput, error) {
	ctx, span := tracer.Start(ctx, "OrderUsecase.PlaceOrder", trace.WithAttributes(
		attribute.Int64("buyer.id", actor.UserID),
		attribute.Int("order.lines", len(in.Items)),
	))
	defer span.End()

	if actor.UserID <= 0 {
		return PlaceOrderOutput{}, NewError(KindUnauthorized, "unauthorized")
	}
	if !actor.Role.CanOrder() {
		return PlaceOrderOutput{}, forbidden("invalid user type for placing orders")
	}
	if err := validator.PhoneNumber(in.PhoneNumber); err != nil {
		return PlaceOrderOutput{}, invalidInput(err.Error())
	}
	if len(in.Items) == 0 {
		return PlaceOrderOutput{}, invalidInput("items must not be empty")
	}
	if len(in.Items) > maxOrderLines {
		return PlaceOrderOutput{}, invalidInput(fmt.Sprintf("at most %d items per order", maxOrderLines))
	}
	for i, it := range in.Items {
		if it.ProductID <= 0 {
			return PlaceOrderOutput{}, invalidInput(fmt.Sprintf("items[%d].product_id is invalid", i))
		}
		if it.Quantity < 1 {
			return PlaceOrderOutput{}, invalidInput(fmt.Sprintf("items[%d].quantity must be >= 1", i))
		}
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > 255 {
		return PlaceOrderOutput{}, invalidInput("idempotency key too long")
	}

	//商品ごとの合計要求数（同じ商品が複数行あっても在庫チェックは合算で行う）
	demand := make(map[int64]int64, len(in.Items))
	productOrder := make([]int64, 0, len(in.Items))
	for _, it := range in.Items {
		if _, ok := demand[it.ProductID]; !ok {
			productOrder = append(productOrder, it.ProductID)
		}
		demand[it.ProductID] += it.Quantity
	}

	var out PlaceOrderOutput
	var placed event.OrderPlaced
	replayed := false

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 同じキーなら同じ結果
		if key != "" {
			existing, found, err := r.Orders().FindByIdempotencyKey(ctx, actor.UserID, key)
			if err != nil {
				return internalError(err)
			}
			if found {
				out = toPlaceOrderOutput(existing)
				replayed = true
				return nil
			}
		}

		//1. 全商品を解決（1つでも無ければ中止）
		products := make(map[int64]model.Product, len(productOrder))
		for _, id := range productOrder {
			p, err := r.Products().FindByID(ctx, id)
			if errors.Is(err, repo.ErrNotFound) {
				return &AppError{
					Kind:    KindNotFound,
					Message: fmt.Sprintf("product %d not found", id),
					Details: map[string]interface{}{"product_id": id},
				}
			}
			if err != nil {
				return internalError(err)
			}
			products[id] = p
		}

		//2. 全行の在庫チェック（ここではまだ何も減らさない）
		for _, id := range productOrder {
			p := products[id]
			if p.Quantity < demand[id] {
				return insufficientStock(p.ID, p.Name, demand[id], p.Quantity)
			}
		}

		//3. 条件付きUPDATEで減算。減算は商品ID昇順
		lines := make([]OrderLineInput, len(in.Items))
		copy(lines, in.Items)
		sort.SliceStable(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
		for _, it := range lines {
			ok, err := r.Inventory().DecreaseStockIfEnough(ctx, it.ProductID, it.Quantity)
			if err != nil {
				return internalError(err)
			}
			if !ok {
				//同時注文に負けた。現在値を読み直して返す
				p := products[it.ProductID]
				available := int64(0)
				if cur, err := r.Products().FindByID(ctx, it.ProductID); err == nil {
					available = cur.Quantity
				}
				return insufficientStock(p.ID, p.Name, demand[it.ProductID], available)
			}
		}

		//スナップショット（手順1で読んだ価格）
		now := u.clock.Now()
		total := decimal.Zero
		items := make([]model.OrderItem, 0, len(in.Items))
		for _, it := range in.Items {
			p := products[it.ProductID]
			item := model.OrderItem{
				ProductID:           p.ID,
				ProductNameSnapshot: p.Name,
				UnitPriceSnapshot:   p.Price,
				Quantity:            it.Quantity,
				CreatedAt:           now,
			}
			total = total.Add(item.Subtotal())
			items = append(items, item)
		}

		order := model.Order{
			BuyerID:     actor.UserID,
			TotalAmount: total,
			Status:      model.OrderStatusPending,
			PhoneNumber: strings.TrimSpace(in.PhoneNumber),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if key != "" {
			order.IdempotencyKey = &key
		}

		// 注文作成
		orderID, err := r.Orders().Create(ctx, order)
		if errors.Is(err, repo.ErrDuplicate) && key != "" {
			return errIdempotencyRace
		}
		if err != nil {
			return internalError(err)
		}
		order.ID = orderID

		//注文明細一括作成
		if err := r.OrderItems().CreateBulk(ctx, orderID, items); err != nil {
			return internalError(err)
		}

		out = toPlaceOrderOutput(order)
		placed = toOrderPlacedEvent(u.ids.NewID(), order, items)
		return nil
	})

	//競合（同時で同じキーが入った）は確定済みの注文を返す
	if errors.Is(err, errIdempotencyRace) {
		err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			existing, found, err := r.Orders().FindByIdempotencyKey(ctx, actor.UserID, key)
			if err != nil {
				return internalError(err)
			}
			if !found {
				return NewError(KindConflict, "idempotency conflict")
			}
			out = toPlaceOrderOutput(existing)
			replayed = true
			return nil
		})
	}
	if err != nil {
		return PlaceOrderOutput{}, u.fail(span, "place order failed", err, slog.Int64("buyer_id", actor.UserID))
	}

	span.SetAttributes(attribute.Int64("order.id", out.OrderID), attribute.Bool("order.replayed", replayed))
	if replayed {
		u.logger.InfoContext(ctx, "order replayed by idempotency key", slog.Int64("order_id", out.OrderID))
		return out, nil
	}

	u.logger.InfoContext(ctx, "order placed",
		slog.Int64("order_id", out.OrderID),
		slog.Int64("buyer_id", actor.UserID),
		slog.String("total_amount", out.TotalAmount.String()),
	)
	u.publish(ctx, event.OrderPlacedRoutingKey, placed)
	return out, nil
}

// 買い手は自分の注文、農家は自分の商品を含む注文
func (u *OrderUsecase) ListOrdersFor(ctx context.Context, actor Actor) ([]OrderOutput, error) {
	ctx, span := tracer.Start(ctx, "OrderUsecase.ListOrdersFor")
	defer span.End()

	if actor.UserID <= 0 {
		return []OrderOutput{}, NewError(KindUnauthorized, "unauthorized")
	}

	var orders []model.Order
	details := map[int64][]repo.OrderItemDetail{}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		if actor.Role == model.RoleFarmer {
			orders, err = r.Orders().ListBySellerID(ctx, actor.UserID)
		} else {
			orders, err = r.Orders().ListByBuyerID(ctx, actor.UserID)
		}
		if err != nil {
			return internalError(err)
		}

		for _, o := range orders {
			items, err := r.OrderItems().ListDetailsByOrderID(ctx, o.ID)
			if err != nil {
				return internalError(err)
			}
			details[o.ID] = items
		}
		return nil
	})
	if err != nil {
		return []OrderOutput{}, u.fail(span, "list orders failed", err)
	}

	names, err := u.buyerNames(ctx, orders)
	if err != nil {
		return []OrderOutput{}, u.fail(span, "list orders failed", internalError(err))
	}

	outs := make([]OrderOutput, 0, len(orders))
	for _, o := range orders {
		out := toOrderOutput(o, details[o.ID])
		out.BuyerName = names[o.BuyerID]
		outs = append(outs, out)
	}
	return outs, nil
}

// 買い手本人か、明細に自分の商品がある農家だけ見られる
func (u *OrderUsecase) GetOrder(ctx context.Context, actor Actor, orderID int64) (OrderOutput, error) {
	ctx, span := tracer.Start(ctx, "OrderUsecase.GetOrder", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	if actor.UserID <= 0 {
		return OrderOutput{}, NewError(KindUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, invalidInput("invalid id")
	}

	var out OrderOutput
	var buyerID int64

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return notFound("order")
		}
		if err != nil {
			return internalError(err)
		}

		if err := authorizeRead(ctx, r, actor, o); err != nil {
			return err
		}

		items, err := r.OrderItems().ListDetailsByOrderID(ctx, orderID)
		if err != nil {
			return internalError(err)
		}

		out = toOrderOutput(o, items)
		out.PhoneNumber = o.PhoneNumber
		buyerID = o.BuyerID
		return nil
	})
	if err != nil {
		return OrderOutput{}, u.fail(span, "get order failed", err, slog.Int64("order_id", orderID))
	}

	// 一覧と同じく、購入者が見つからなければ名前は空のまま
	buyer, err := u.users.FindByID(ctx, buyerID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return OrderOutput{}, u.fail(span, "get order failed", internalError(err), slog.Int64("order_id", orderID))
	default:
		out.BuyerName = buyer.Username
	}
	return out, nil
}

type OrderHistoryInput struct {
	Limit  int // 0ならDefaultAuditPageSize
	Offset int
}

// 注文の監査ログ（閲覧権限は注文詳細と同じ）
func (u *OrderUsecase) OrderHistory(ctx context.Context, actor Actor, orderID int64, in OrderHistoryInput) ([]model.AuditLog, error) {
	if actor.UserID <= 0 {
		return nil, NewError(KindUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return nil, invalidInput("invalid id")
	}
	if in.Limit < 0 || in.Limit > repo.MaxAuditPageSize {
		return nil, invalidInput(fmt.Sprintf("limit must be between 1 and %d", repo.MaxAuditPageSize))
	}
	if in.Offset < 0 {
		return nil, invalidInput("offset must not be negative")
	}

	var logs []model.AuditLog
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return notFound("order")
		}
		if err != nil {
			return internalError(err)
		}
		if err := authorizeRead(ctx, r, actor, o); err != nil {
			return err
		}

		logs, err = r.AuditLogs().List(ctx, repo.AuditLogFilter{
			ResourceType: model.AuditResourceOrder,
			ResourceID:   orderID,
			Limit:        in.Limit,
			Offset:       in.Offset,
		})
		if err != nil {
			return internalError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// 農家のみ、かつ注文に自分の商品が含まれるときだけ変更できる
func (u *OrderUsecase) UpdateOrderStatus(ctx context.Context, actor Actor, orderID int64, rawStatus string) (UpdateOrderStatusOutput, error) {
	ctx, span := tracer.Start(ctx, "OrderUsecase.UpdateOrderStatus", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("order.status.requested", rawStatus),
	))
	defer span.End()

	if actor.UserID <= 0 {
		return UpdateOrderStatusOutput{}, NewError(KindUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return UpdateOrderStatusOutput{}, invalidInput("invalid id")
	}
	to, ok := model.ParseOrderStatus(strings.TrimSpace(rawStatus))
	if !ok {
		return UpdateOrderStatusOutput{}, invalidInput("invalid status")
	}

	var from model.OrderStatus
	changed := false

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return notFound("order")
		}
		if err != nil {
			return internalError(err)
		}

		if actor.Role != model.RoleFarmer {
			return forbidden("only farmers can update order status")
		}
		//所有判定は同じトランザクション内で明細から毎回行う
		sells, err := r.OrderItems().ExistsForFarmer(ctx, orderID, actor.UserID)
		if err != nil {
			return internalError(err)
		}
		if !sells {
			return forbidden("you can only update orders for your products")
		}

		from = o.Status
		// すでに同じなら何もしない
		if from == to {
			return nil
		}
		if !u.policy.Allow(from, to) {
			return &AppError{
				Kind:    KindInvalidTransition,
				Message: fmt.Sprintf("cannot change order status from %s to %s", from, to),
				Details: map[string]interface{}{"from": from, "to": to, "policy": u.policy.Name()},
			}
		}

		updated, err := r.Orders().UpdateStatus(ctx, orderID, from, to)
		if err != nil {
			return internalError(err)
		}
		if !updated {
			return NewError(KindInvalidTransition, "order status changed concurrently, retry")
		}

		if to == model.OrderStatusCancelled && u.opts.RestockOnCancel {
			if err := restock(ctx, r, actor.UserID, orderID); err != nil {
				return err
			}
		}

		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actor.UserID,
			Action:       model.AuditActionUpdateOrderStatus,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   orderID,
			BeforeJSON:   statusJSON(from, ""),
			AfterJSON:    statusJSON(to, ""),
			CreatedAt:    u.clock.Now(),
		}); err != nil {
			return internalError(err)
		}

		changed = true
		return nil
	})
	if err != nil {
		return UpdateOrderStatusOutput{}, u.fail(span, "update order status failed", err,
			slog.Int64("order_id", orderID), slog.Int64("actor_id", actor.UserID))
	}

	if changed {
		u.logger.InfoContext(ctx, "order status updated",
			slog.Int64("order_id", orderID),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
			slog.Int64("actor_id", actor.UserID),
		)
		u.publish(ctx, event.OrderStatusRoutingKey, event.OrderStatusChanged{
			EventID:    u.ids.NewID(),
			OrderID:    orderID,
			From:       from,
			To:         to,
			ActorID:    actor.UserID,
			Source:     event.SourceFarmer,
			OccurredAt: u.clock.Now(),
		})
	}
	return UpdateOrderStatusOutput{ID: orderID, Status: string(to)}, nil
}

// キャンセルされた注文の数量を在庫に戻す
func restock(ctx context.Context, r repo.TxRepos, actorID int64, orderID int64) error {
	items, err := r.OrderItems().ListByOrderID(ctx, orderID)
	if err != nil {
		return internalError(err)
	}
	for _, it := range items {
		if err := r.Inventory().IncreaseStock(ctx, it.ProductID, it.Quantity); err != nil {
			return internalError(err)
		}
		if err := r.Inventory().CreateAdjustment(ctx, model.InventoryAdjustment{
			ProductID:   it.ProductID,
			ActorUserID: actorID,
			Delta:       it.Quantity,
			Reason:      fmt.Sprintf("order %d cancelled", orderID),
		}); err != nil {
			return internalError(err)
		}
	}
	return nil
}

func authorizeRead(ctx context.Context, r repo.TxRepos, actor Actor, o model.Order) error {
	if o.BuyerID == actor.UserID {
		return nil
	}
	if actor.Role == model.RoleFarmer {
		sells, err := r.OrderItems().ExistsForFarmer(ctx, o.ID, actor.UserID)
		if err != nil {
			return internalError(err)
		}
		if sells {
			return nil
		}
	}
	return forbidden("access denied")
}

func (u *OrderUsecase) buyerNames(ctx context.Context, orders []model.Order) (map[int64]string, error) {
	seen := map[int64]bool{}
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		if !seen[o.BuyerID] {
			seen[o.BuyerID] = true
			ids = append(ids, o.BuyerID)
		}
	}
	users, err := u.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(users))
	for _, usr := range users {
		names[usr.ID] = usr.Username
	}
	return names, nil
}

// コミット後の発行。失敗しても注文は取り消さない
func (u *OrderUsecase) publish(ctx context.Context, routingKey string, ev interface{}) {
	if err := u.publisher.Publish(ctx, routingKey, ev); err != nil {
		u.logger.WarnContext(ctx, "publish order event failed",
			slog.String("routing_key", routingKey),
			slog.String("error", err.Error()),
		)
	}
}

// AppError以外はinternalにしてspanとログに残す
func (u *OrderUsecase) fail(span trace.Span, msg string, err error, attrs ...any) error {
	return recordFailure(span, u.logger, msg, err, attrs...)
}

func recordFailure(span trace.Span, logger *slog.Logger, msg string, err error, attrs ...any) error {
	if _, ok := AsAppError(err); !ok {
		err = internalError(err)
	}
	kind := KindOf(err)
	span.SetAttributes(attribute.String("error.kind", string(kind)))
	if kind == KindInternal {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		logger.Error(msg, append(attrs, slog.String("error", err.Error()))...)
	} else {
		logger.Debug(msg, append(attrs, slog.String("kind", string(kind)))...)
	}
	return err
}

func toPlaceOrderOutput(o model.Order) PlaceOrderOutput {
	return PlaceOrderOutput{
		OrderID:     o.ID,
		Message:     "Order placed successfully",
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount,
	}
}

func toOrderOutput(o model.Order, items []repo.OrderItemDetail) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductNameSnapshot,
			Quantity:    it.Quantity,
			Price:       it.UnitPriceSnapshot,
			FarmerID:    it.FarmerID,
			FarmerName:  it.FarmerName,
		})
	}

	var receipt *string
	if o.PaymentReceipt != "" {
		rc := o.PaymentReceipt
		receipt = &rc
	}

	return OrderOutput{
		ID:             o.ID,
		BuyerID:        o.BuyerID,
		TotalAmount:    o.TotalAmount,
		Status:         string(o.Status),
		PaymentReceipt: receipt,
		CreatedAt:      o.CreatedAt,
		Items:          outItems,
	}
}

func toOrderPlacedEvent(eventID string, o model.Order, items []model.OrderItem) event.OrderPlaced {
	evItems := make([]event.OrderPlacedItem, 0, len(items))
	for _, it := range items {
		evItems = append(evItems, event.OrderPlacedItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPriceSnapshot,
		})
	}
	return event.OrderPlaced{
		EventID:     eventID,
		OrderID:     o.ID,
		BuyerID:     o.BuyerID,
		TotalAmount: o.TotalAmount,
		Items:       evItems,
		OccurredAt:  o.CreatedAt,
	}
}

// 監査ログ用
func statusJSON(status model.OrderStatus, receipt string) string {
	v := map[string]string{"status": string(status)}
	if receipt != "" {
		v["payment_receipt"] = receipt
	}
	b, _ := json.Marshal(v)
	return string(b)
}
