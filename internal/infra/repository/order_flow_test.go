package repository_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"agriconnect/internal/domain/model"
	"agriconnect/internal/infra/cache"
	"agriconnect/internal/infra/db"
	"agriconnect/internal/infra/messaging"
	infraRepo "agriconnect/internal/infra/repository"
	repo "agriconnect/internal/repository"
	"agriconnect/internal/usecase"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("evt-%d", s.n)
}

type env struct {
	gdb      *gorm.DB
	users    repo.UserRepository
	products *infraRepo.ProductGormRepository
	orders   *usecase.OrderUsecase
	payments *usecase.PaymentUsecase
	catalog  *usecase.ProductUsecase

	buyer  usecase.Actor
	farmer usecase.Actor
}

func newEnv(t *testing.T, opts usecase.OrderOptions) *env {
	t.Helper()

	gdb, err := db.OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := messaging.NewLogPublisher(log)
	txm := infraRepo.NewTxManagerGorm(gdb)
	users := infraRepo.NewUserGormRepository(gdb)
	products := infraRepo.NewProductGormRepository(gdb)
	ids := &seqIDs{}

	e := &env{
		gdb:      gdb,
		users:    users,
		products: products,
		orders:   usecase.NewOrderUsecase(txm, users, usecase.PermissivePolicy{}, pub, ids, usecase.SystemClock, log, opts),
		payments: usecase.NewPaymentUsecase(txm, cache.NoopReceiptStore{}, pub, ids, usecase.SystemClock, log, "ORDER"),
		catalog:  usecase.NewProductUsecase(txm, products, users, usecase.SystemClock),
	}
	e.buyer = usecase.Actor{UserID: e.seedUser(t, "otieno", model.RoleBuyer), Role: model.RoleBuyer}
	e.farmer = usecase.Actor{UserID: e.seedUser(t, "wanjiku", model.RoleFarmer), Role: model.RoleFarmer}
	return e
}

func (e *env) seedUser(t *testing.T, name string, role model.Role) int64 {
	t.Helper()
	u := &model.User{Username: name, Email: name + "@example.com", PasswordHash: "x", Role: role}
	require.NoError(t, e.users.Create(context.Background(), u))
	return u.ID
}

func (e *env) seedProduct(t *testing.T, farmerID int64, name string, price string, qty int64) int64 {
	t.Helper()
	p, err := e.products.Create(context.Background(), model.Product{
		FarmerID: farmerID,
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Quantity: qty,
	})
	require.NoError(t, err)
	return p.ID
}

func (e *env) stock(t *testing.T, productID int64) int64 {
	t.Helper()
	var p model.Product
	require.NoError(t, e.gdb.Unscoped().First(&p, productID).Error)
	return p.Quantity
}

func (e *env) count(t *testing.T, table interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.gdb.Model(table).Count(&n).Error)
	return n
}

func order(productID int64, qty int64) usecase.PlaceOrderInput {
	return usecase.PlaceOrderInput{
		PhoneNumber: "+254712345678",
		Items:       []usecase.OrderLineInput{{ProductID: productID, Quantity: qty}},
	}
}

func callback(orderID int64, receipt string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{"ResultCode":0,"ResultDesc":"ok","CallbackMetadata":{"Item":[
		{"Name":"Amount","Value":90},
		{"Name":"MpesaReceiptNumber","Value":%q},
		{"Name":"AccountReference","Value":"ORDER%d"}]}}}}`, receipt, orderID))
}

// =====================
// 注文
// =====================

func TestOrderFlow_StockIsDecrementedAndExhausted(t *testing.T) {
	e := newEnv(t, usecase.OrderOptions{})
	ctx := context.Background()
	p := e.seedProduct(t, e.farmer.UserID, "Kale", "45.00", 2)

	out, err := e.orders.PlaceOrder(ctx, e.buyer, order(p, 2))
	require.NoError(t, err)
	assert.Equal(t, "pending", out.Status)
	assert.True(t, decimal.NewFromInt(90).Equal(out.TotalAmount))
	assert.Equal(t, int64(0), e.stock(t, p))

	_, err = e.orders.PlaceOrder(ctx, e.buyer, order(p, 1))
	require.Error(t, err)
	assert.Equal(t, usecase.KindInsufficientStock, usecase.KindOf(err))
	assert.Equal(t, int64(1), e.count(t, &model.Order{}))
}

func TestOrderFlow_AllOrNothing(t *testing.T) {
	e := newEnv(t, usecase.OrderOptions{})
	ctx := context.Background()
	a := e.seedProduct(t, e.farmer.UserID, "Kale", "10", 5)
	b := e.seedProduct(t, e.farmer.UserID, "Spinach", "10", 1)

	_, err := e.orders.PlaceOrder(ctx, e.buyer, usecase.PlaceOrderInput{
		PhoneNumber: "0712345678",
		Items: []usecase.OrderLineInput{
			{ProductID: a, Quantity: 2},
			{ProductID: b, Quantity: 3},
		},
	})
	require.Error(t, err)
	assert.Equal(t, usecase.KindInsufficientStock, usecase.KindOf(err))

	assert.Equal(t, int64(5), e.stock(t, a))
	assert.Equal(t, int64(1), e.stock(t, b))
	assert.Equal(t, int64(0), e.count(t, &model.Order{}))
	assert.Equal(t, int64(0), e.count(t, &model.OrderItem{}))
}

func TestOrderFlow_ConcurrentOrdersNeverOversell(t *testing.T) {
	e := newEnv(t, usecase.OrderOptions{})
	p := e.seedProduct(t, e.farmer.UserID, "Kale", "10", 3)

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.orders.PlaceOrder(context.Background(), e.buyer, order(p, 1))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			assert.Equal(t, usecase.KindInsufficientStock, usecase.KindOf(err))
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, int64(0), e.stock(t, p))
	assert.Equal(t, int64(3), e.count(t, &model.Order{}))
}

// 在庫2に {P:1} と {P:2} が同時に来たら片方だけ通る
func TestOrderFlow_ConcurrentMixedQuantitiesExactlyOneWins(t *testing.T) {
	for run := 0; run < 20; run++ {
		e := newEnv(t, usecase.OrderOptions{})
		p := e.seedProduct(t, e.farmer.UserID, "Kale", "45", 2)
		other := usecase.Actor{UserID: e.seedUser(t, "akinyi", model.RoleBuyer), Role: model.RoleBuyer}

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errA  error
			errB  error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, errA = e.orders.PlaceOrder(context.Background(), e.buyer, order(p, 1))
		}()
		go func() {
			defer wg.Done()
			<-start
			_, errB = e.orders.PlaceOrder(context.Background(), other, order(p, 2))
		}()
		close(start)
		wg.Wait()

		left := e.stock(t, p)
		switch {
		case errA == nil && errB != nil:
			assert.Equal(t, usecase.KindInsufficientStock, usecase.KindOf(errB))
			assert.Equal(t, int64(1), left)
		case errB == nil && errA != nil:
			assert.Equal(t, usecase.KindInsufficientStock, usecase.KindOf(errA))
			assert.Equal(t, int64(0), left)
		default:
			t.Fatalf("run %d: want exactly one success, got errA=%v errB=%v", run, errA, errB)
		}
		assert.Equal(t, int64(1), e.count(t, &model.Order{}))
		assert.Equal(t, int64(1), e.count(t, &model.OrderItem{}))
	}
}

// 読んだ在庫が古くても条件付きUPDATEが負在庫を防ぐ
func TestInventory_DecreaseStockIfEnoughRejectsStaleRead(t *testing.T) {
	e := newEnv(t, usecase.OrderOptions{})
	ctx := context.Background()
	p := e.seedProduct(t, e.farmer.UserID, "Kale", "45", 2)
	inv := infraRepo.NewInventoryGormRepository(e.gdb)

	ok, err := inv.DecreaseStockIfEnough(ctx, p, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	//在庫2を前提にした2個の確保は負けになる
	ok, err = inv.DecreaseStockIfEnough(ctx, p, 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), e.stock(t, p))
}

func TestOrderFlow_PriceSnapshotSurvivesPriceChange(t *testing.T) {
	e := newEnv(t, usecase.OrderOptions{})
	ctx := context.Background()
	p := e.seedProduct(t, e.farmer.UserID, "Kale", "45.00", 10)

	placed, err := e.orders.PlaceOrder(ctx, e.buyer, order(p, 2))
	require.NoError(t, err)

	newPrice := decimal.NewFromInt(99)
	_, err = e.catalog.UpdateProduct(ctx, e.farmer, p, usecase.ProductPatch{Price: &newPrice})
	require.NoError(t, err)

	got, err := e.orders.GetOrder(ctx, e.buyer, placed.OrderID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.True(t, decimal.NewFromInt(45).Equal(got.Items[0].Price))
	assert.True(t, decimal.NewFromInt(90).Equal(got.TotalAmount))
	assert.Equal(t, "wanjiku", got.Items[0].FarmerName)
	assert.Equal(t, "otieno", got.BuyerName)
}

func TestOrderFlow_IdempotencyKeyReplays(t *testing.T) {
	e := newEnv(t, usecase.OrderOptions{})
	ctx := context.Background()
	p := e.seedProduct(t, e.farmer.UserID, "Kale", "10", 10)

	in := order(p, 2)
	in.IdempotencyKey = "k-1"
	first, err := e.orders.PlaceOrder(ctx, e.buyer, in)
	require.NoError(t, err)
	second, err := e.orders.PlaceOrder(ctx, e.buyer, in)
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, int64(8), e.stock(t, p))
}

// キーは購入者ごと。別の購入者が同じキーを使っても別注文になる
func TestOrderFlow_IdempotencyKeyIsScopedPerBuyer(t *testing.T) {
	e := newEnv(t, usecase.OrderOptions{})
	ctx := context.Background()
	p := e.seedProduct(t, e.farmer.UserID, "Kale", "10", 10)
	other := usecase.Actor{UserID: e.seedUser(t, "akinyi", model.RoleBuyer), Role: model.RoleBuyer}

	in := order(p, 2)
	in.IdempotencyKey = "checkout-1"
	first, err := e.orders.PlaceOrder(ctx, e.buyer, in)
	require.NoError(t, err)
	second, err := e.orders.PlaceOrder(ctx, other, in)
	require.NoError(t, err)

	assert.NotEqual(t, first.OrderID, second.OrderID)
	assert.Equal(t, int64(6), e.stock(t, p))
	assert.Equal(t, int64(2), e.count(t, &model.Order{}))

	//同じ購入者の再送は従来どおり再生
	again, err := e.orders.PlaceOrder(ctx, other, in)
	require.NoError(t, err)
	assert.Equal(t, second.OrderID, again.OrderID)
	assert.Equal(t, int64(6), e.stock(t, p))
}

func TestOrderFlow_FarmerSeesOrdersContainingTheirProducts(t *testing.T) {
	e := newEnv(t, usecase.OrderOptions{})
	ctx := context.Background()
	other := usecase.Actor{UserID: e.seedUser(t, "kamau", model.RoleFarmer), Role: model.RoleFarmer}
	mine := e.seedProduct(t, e.farmer.UserID, "Kale", "10", 10)
	theirs := e.seedProduct(t, other.UserID, "Maize", "5", 10)

	o1, err := e.orders.PlaceOrder(ctx, e.buyer, order(mine, 1))
	require.NoError(t, err)
	_, err = e.orders.PlaceOrder(ctx, e.buyer, order(theirs, 1))
	require.NoError(t, err)

	list, err := e.orders.ListOrdersFor(ctx, e.farmer)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, o1.OrderID, list[0].ID)

	//他の農家の注文は見られないし変更もできない
	_, err = e.orders.GetOrder(ctx, other, o1.OrderID)
	assert.Equal(t, usecase.KindForbidden, usecase.KindOf(err))
	_, err = e.orders.UpdateOrderStatus(ctx, other, o1.OrderID, "shipped")
	assert.Equal(t, usecase.KindForbidden, usecase.KindOf(err))

	buyerList, err := e.orders.ListOrdersFor(ctx, e.buyer)
	require.NoError(t, err)
	assert.Len(t, buyerList, 2)
}

func TestOrderFlow_StatusChangeWritesHistory(t *testing.T) {
	e := newEnv(t, usecase.OrderOptions{})
	ctx := context.Background()
	p := e.seedProduct(t, e.farmer.UserID, "Kale", "10", 10)

	placed, err := e.orders.PlaceOrder(ctx, e.buyer, order(p, 1))
	require.NoError(t, err)

	out, err := e.orders.UpdateOrderStatus(ctx, e.farmer, placed.OrderID, "shipped")
	require.NoError(t, err)
	assert.Equal(t, "shipped", out.Status)

	_, err = e.orders.UpdateOrderStatus(ctx, e.farmer, placed.OrderID, "delivered")
	require.NoError(t, err)

	//古い順
	logs, err := e.orders.OrderHistory(ctx, e.buyer, placed.OrderID, usecase.OrderHistoryInput{})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, model.AuditActionUpdateOrderStatus, logs[0].Action)
	assert.Contains(t, logs[0].AfterJSON, "shipped")
	assert.Contains(t, logs[1].AfterJSON, "delivered")

	page, err := e.orders.OrderHistory(ctx, e.buyer, placed.OrderID, usecase.OrderHistoryInput{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, logs[1].ID, page[0].ID)

	_, err = e.orders.OrderHistory(ctx, e.buyer, placed.OrderID, usecase.OrderHistoryInput{Limit: 201})
	assert.Equal(t, usecase.KindInvalidInput, usecase.KindOf(err))
}

func TestOrderFlow_CancelRestocksWhenEnabled(t *testing.T) {
	e := newEnv(t, usecase.OrderOptions{RestockOnCancel: true})
	ctx := context.Background()
	p := e.seedProduct(t, e.farmer.UserID, "Kale", "10", 5)

	placed, err := e.orders.PlaceOrder(ctx, e.buyer, order(p, 3))
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.stock(t, p))

	_, err = e.orders.UpdateOrderStatus(ctx, e.farmer, placed.OrderID, "cancelled")
	require.NoError(t, err)
	assert.Equal(t, int64(5), e.stock(t, p))
}

// =====================
// 決済通知
// =====================

func TestPaymentFlow_ConfirmsOnceAndDetectsRepeat(t *testing.T) {
	e := newEnv(t, usecase.OrderOptions{})
	ctx := context.Background()
	p := e.seedProduct(t, e.farmer.UserID, "Kale", "45", 10)
	placed, err := e.orders.PlaceOrder(ctx, e.buyer, order(p, 2))
	require.NoError(t, err)

	first, err := e.payments.HandlePaymentNotification(ctx, callback(placed.OrderID, "NLJ7RT61SV"))
	require.NoError(t, err)
	assert.Equal(t, usecase.PaymentApplied, first.Result)

	again, err := e.payments.HandlePaymentNotification(ctx, callback(placed.OrderID, "NLJ7RT61SV"))
	require.NoError(t, err)
	assert.Equal(t, usecase.PaymentDuplicate, again.Result)

	other, err := e.payments.HandlePaymentNotification(ctx, callback(placed.OrderID, "ZZZ"))
	require.NoError(t, err)
	assert.Equal(t, usecase.PaymentIgnored, other.Result)

	got, err := e.orders.GetOrder(ctx, e.buyer, placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "confirmed", got.Status)
	require.NotNil(t, got.PaymentReceipt)
	assert.Equal(t, "NLJ7RT61SV", *got.PaymentReceipt)

	var audits int64
	require.NoError(t, e.gdb.Model(&model.AuditLog{}).Where("action = ?", model.AuditActionConfirmPayment).Count(&audits).Error)
	assert.Equal(t, int64(1), audits)
}

func TestPaymentFlow_UnknownOrder(t *testing.T) {
	e := newEnv(t, usecase.OrderOptions{})
	_, err := e.payments.HandlePaymentNotification(context.Background(), callback(999, "R"))
	assert.Equal(t, usecase.KindNotFound, usecase.KindOf(err))
}

func TestPaymentFlow_MalformedLeavesOrderPending(t *testing.T) {
	e := newEnv(t, usecase.OrderOptions{})
	ctx := context.Background()
	p := e.seedProduct(t, e.farmer.UserID, "Kale", "45", 10)
	placed, err := e.orders.PlaceOrder(ctx, e.buyer, order(p, 1))
	require.NoError(t, err)

	raw := []byte(fmt.Sprintf(`{"Body":{"stkCallback":{"ResultCode":0,"CallbackMetadata":{"Item":[{"Name":"AccountReference","Value":"ORDER%d"}]}}}}`, placed.OrderID))
	_, err = e.payments.HandlePaymentNotification(ctx, raw)
	assert.Equal(t, usecase.KindMalformedCallback, usecase.KindOf(err))

	got, err := e.orders.GetOrder(ctx, e.buyer, placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "pending", got.Status)
	assert.Nil(t, got.PaymentReceipt)
}
