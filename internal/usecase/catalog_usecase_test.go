package usecase_test

import (
	"context"
	"testing"

	"agriconnect/internal/domain/model"
	repo "agriconnect/internal/repository"
	"agriconnect/internal/usecase"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type ReviewRepoMock struct{ mock.Mock }

func (m *ReviewRepoMock) List(ctx context.Context, productID *int64) ([]model.Review, error) {
	args := m.Called(ctx, productID)
	items, _ := args.Get(0).([]model.Review)
	return items, args.Error(1)
}

func (m *ReviewRepoMock) FindByID(ctx context.Context, id int64) (model.Review, error) {
	args := m.Called(ctx, id)
	r, _ := args.Get(0).(model.Review)
	return r, args.Error(1)
}

func (m *ReviewRepoMock) FindByUserAndProduct(ctx context.Context, userID int64, productID int64) (model.Review, bool, error) {
	args := m.Called(ctx, userID, productID)
	r, _ := args.Get(0).(model.Review)
	return r, args.Bool(1), args.Error(2)
}

func (m *ReviewRepoMock) Create(ctx context.Context, r model.Review) (model.Review, error) {
	args := m.Called(ctx, r)
	out, _ := args.Get(0).(model.Review)
	return out, args.Error(1)
}

func (m *ReviewRepoMock) Update(ctx context.Context, r model.Review) error {
	return m.Called(ctx, r).Error(0)
}

func (m *ReviewRepoMock) Delete(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type ChatRepoMock struct{ mock.Mock }

func (m *ChatRepoMock) ListConversation(ctx context.Context, userID int64, otherID int64, page int, perPage int) ([]model.ChatMessage, int64, error) {
	args := m.Called(ctx, userID, otherID, page, perPage)
	msgs, _ := args.Get(0).([]model.ChatMessage)
	return msgs, args.Get(1).(int64), args.Error(2)
}

func (m *ChatRepoMock) Create(ctx context.Context, msg *model.ChatMessage) error {
	args := m.Called(ctx, msg)
	msg.ID = 99
	return args.Error(0)
}

func (m *ChatRepoMock) MarkRead(ctx context.Context, senderID int64, receiverID int64) (int64, error) {
	args := m.Called(ctx, senderID, receiverID)
	return args.Get(0).(int64), args.Error(1)
}

var (
	_ repo.ReviewRepository      = (*ReviewRepoMock)(nil)
	_ repo.ChatMessageRepository = (*ChatRepoMock)(nil)
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int        { return &i }
func i64Ptr(i int64) *int64    { return &i }

// =====================
// Product
// =====================

func TestProduct_CreateRequiresFarmer(t *testing.T) {
	f := newTxFixture()
	uc := usecase.NewProductUsecase(f.tx, f.products, new(UserRepoMock), fixedClock{testNow})

	_, err := uc.CreateProduct(context.Background(), buyer, usecase.ProductInput{Name: "Kale", Price: decimal.NewFromInt(10)})
	assertKind(t, err, usecase.KindForbidden)
	f.products.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestProduct_CreateValidates(t *testing.T) {
	cases := map[string]usecase.ProductInput{
		"empty name":     {Name: " ", Price: decimal.NewFromInt(1)},
		"negative price": {Name: "Kale", Price: decimal.NewFromInt(-1)},
		"three decimals": {Name: "Kale", Price: decimal.RequireFromString("1.005")},
		"negative qty":   {Name: "Kale", Price: decimal.NewFromInt(1), Quantity: -1},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			f := newTxFixture()
			uc := usecase.NewProductUsecase(f.tx, f.products, new(UserRepoMock), fixedClock{testNow})
			_, err := uc.CreateProduct(context.Background(), farmer, in)
			assertKind(t, err, usecase.KindInvalidInput)
		})
	}
}

func TestProduct_CreateOwnedByActor(t *testing.T) {
	f := newTxFixture()
	users := new(UserRepoMock)
	uc := usecase.NewProductUsecase(f.tx, f.products, users, fixedClock{testNow})

	f.products.On("Create", mock.Anything, mock.MatchedBy(func(p model.Product) bool {
		return p.FarmerID == farmer.UserID && p.Name == "Kale" && p.Quantity == 10
	})).Return(model.Product{ID: 3}, nil)
	f.products.On("FindByID", mock.Anything, int64(3)).Return(model.Product{ID: 3, FarmerID: farmer.UserID, Name: "Kale", Quantity: 10}, nil)
	users.On("FindByID", mock.Anything, farmer.UserID).Return(&model.User{ID: farmer.UserID, Username: "wanjiku", FarmName: "Green Acres"}, nil)

	out, err := uc.CreateProduct(context.Background(), farmer, usecase.ProductInput{Name: " Kale ", Price: decimal.NewFromInt(30), Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.ID)
	assert.Equal(t, "wanjiku", out.FarmerName)
	assert.Equal(t, "Green Acres", out.FarmName)
}

func TestProduct_UpdateByOtherFarmerIsForbidden(t *testing.T) {
	f := newTxFixture()
	uc := usecase.NewProductUsecase(f.tx, f.products, new(UserRepoMock), fixedClock{testNow})

	f.products.On("FindByID", mock.Anything, int64(3)).Return(model.Product{ID: 3, FarmerID: 77, Name: "Kale"}, nil)

	_, err := uc.UpdateProduct(context.Background(), farmer, 3, usecase.ProductPatch{Name: strPtr("Spinach")})
	assertKind(t, err, usecase.KindForbidden)
	f.products.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestProduct_UpdateQuantityRecordsAdjustment(t *testing.T) {
	f := newTxFixture()
	users := new(UserRepoMock)
	uc := usecase.NewProductUsecase(f.tx, f.products, users, fixedClock{testNow})

	f.products.On("FindByID", mock.Anything, int64(3)).Return(product(3, "Kale", "30", 4), nil)
	f.products.On("Update", mock.Anything, mock.MatchedBy(func(p model.Product) bool { return p.Quantity == 10 })).Return(nil)
	f.inventory.On("SetStock", mock.Anything, int64(3), int64(10)).Return(nil)
	f.inventory.On("CreateAdjustment", mock.Anything, mock.MatchedBy(func(a model.InventoryAdjustment) bool {
		return a.ProductID == 3 && a.Delta == 6 && a.ActorUserID == farmer.UserID
	})).Return(nil)
	f.audit.On("Create", mock.Anything, mock.MatchedBy(func(l model.AuditLog) bool {
		return l.Action == model.AuditActionUpdateStock && l.BeforeJSON == `{"quantity":4}` && l.AfterJSON == `{"quantity":10}`
	})).Return(nil)
	users.On("FindByID", mock.Anything, farmer.UserID).Return(&model.User{ID: farmer.UserID}, nil)

	_, err := uc.UpdateProduct(context.Background(), farmer, 3, usecase.ProductPatch{Quantity: i64Ptr(10)})
	require.NoError(t, err)
	f.inventory.AssertExpectations(t)
	f.audit.AssertExpectations(t)
}

func TestProduct_UpdatePriceOnlySkipsAdjustment(t *testing.T) {
	f := newTxFixture()
	users := new(UserRepoMock)
	uc := usecase.NewProductUsecase(f.tx, f.products, users, fixedClock{testNow})

	price := decimal.NewFromInt(55)
	f.products.On("FindByID", mock.Anything, int64(3)).Return(product(3, "Kale", "30", 4), nil)
	f.products.On("Update", mock.Anything, mock.MatchedBy(func(p model.Product) bool { return p.Price.Equal(price) })).Return(nil)
	users.On("FindByID", mock.Anything, farmer.UserID).Return(&model.User{ID: farmer.UserID}, nil)

	_, err := uc.UpdateProduct(context.Background(), farmer, 3, usecase.ProductPatch{Price: &price})
	require.NoError(t, err)
	f.inventory.AssertNotCalled(t, "CreateAdjustment", mock.Anything, mock.Anything)
}

func TestProduct_DeleteNotFound(t *testing.T) {
	f := newTxFixture()
	uc := usecase.NewProductUsecase(f.tx, f.products, new(UserRepoMock), fixedClock{testNow})
	f.products.On("FindByID", mock.Anything, int64(8)).Return(model.Product{}, repo.ErrNotFound)

	err := uc.DeleteProduct(context.Background(), farmer, 8)
	assertKind(t, err, usecase.KindNotFound)
}

func TestProduct_ListJoinsFarmers(t *testing.T) {
	f := newTxFixture()
	users := new(UserRepoMock)
	uc := usecase.NewProductUsecase(f.tx, f.products, users, fixedClock{testNow})

	f.products.On("List", mock.Anything, repo.ProductListQuery{Category: "vegetables"}).
		Return([]model.Product{product(1, "Kale", "30", 1), product(2, "Spinach", "20", 1)}, nil)
	users.On("FindByIDs", mock.Anything, []int64{farmer.UserID}).
		Return([]model.User{{ID: farmer.UserID, Username: "wanjiku"}}, nil)

	out, err := uc.ListProducts(context.Background(), usecase.ListProductsInput{Category: "vegetables"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "wanjiku", out[1].FarmerName)
}

// =====================
// Review
// =====================

func TestReview_CreateTwiceConflicts(t *testing.T) {
	reviews := new(ReviewRepoMock)
	products := new(ProductRepoMock)
	uc := usecase.NewReviewUsecase(reviews, products, new(UserRepoMock), fixedClock{testNow})

	products.On("FindByID", mock.Anything, int64(3)).Return(model.Product{ID: 3}, nil)
	reviews.On("FindByUserAndProduct", mock.Anything, buyer.UserID, int64(3)).Return(model.Review{ID: 1}, true, nil)

	_, err := uc.CreateReview(context.Background(), buyer, usecase.ReviewInput{ProductID: 3, Rating: 5})
	assertKind(t, err, usecase.KindConflict)
}

func TestReview_CreateRaceMapsDuplicateToConflict(t *testing.T) {
	reviews := new(ReviewRepoMock)
	products := new(ProductRepoMock)
	uc := usecase.NewReviewUsecase(reviews, products, new(UserRepoMock), fixedClock{testNow})

	products.On("FindByID", mock.Anything, int64(3)).Return(model.Product{ID: 3}, nil)
	reviews.On("FindByUserAndProduct", mock.Anything, buyer.UserID, int64(3)).Return(model.Review{}, false, nil)
	reviews.On("Create", mock.Anything, mock.Anything).Return(model.Review{}, repo.ErrDuplicate)

	_, err := uc.CreateReview(context.Background(), buyer, usecase.ReviewInput{ProductID: 3, Rating: 4})
	assertKind(t, err, usecase.KindConflict)
}

func TestReview_RatingOutOfRange(t *testing.T) {
	uc := usecase.NewReviewUsecase(new(ReviewRepoMock), new(ProductRepoMock), new(UserRepoMock), fixedClock{testNow})
	_, err := uc.CreateReview(context.Background(), buyer, usecase.ReviewInput{ProductID: 3, Rating: 6})
	assertKind(t, err, usecase.KindInvalidInput)
}

func TestReview_CreateForMissingProduct(t *testing.T) {
	products := new(ProductRepoMock)
	uc := usecase.NewReviewUsecase(new(ReviewRepoMock), products, new(UserRepoMock), fixedClock{testNow})
	products.On("FindByID", mock.Anything, int64(3)).Return(model.Product{}, repo.ErrNotFound)

	_, err := uc.CreateReview(context.Background(), buyer, usecase.ReviewInput{ProductID: 3, Rating: 3})
	assertKind(t, err, usecase.KindNotFound)
}

func TestReview_UpdateOthersReviewIsForbidden(t *testing.T) {
	reviews := new(ReviewRepoMock)
	uc := usecase.NewReviewUsecase(reviews, new(ProductRepoMock), new(UserRepoMock), fixedClock{testNow})
	reviews.On("FindByID", mock.Anything, int64(5)).Return(model.Review{ID: 5, UserID: 42, Rating: 3}, nil)

	_, err := uc.UpdateReview(context.Background(), buyer, 5, intPtr(1), nil)
	assertKind(t, err, usecase.KindForbidden)

	err = uc.DeleteReview(context.Background(), buyer, 5)
	assertKind(t, err, usecase.KindForbidden)
	reviews.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestReview_UpdateOwn(t *testing.T) {
	reviews := new(ReviewRepoMock)
	users := new(UserRepoMock)
	uc := usecase.NewReviewUsecase(reviews, new(ProductRepoMock), users, fixedClock{testNow})

	reviews.On("FindByID", mock.Anything, int64(5)).Return(model.Review{ID: 5, UserID: buyer.UserID, ProductID: 3, Rating: 3}, nil)
	reviews.On("Update", mock.Anything, mock.MatchedBy(func(r model.Review) bool {
		return r.Rating == 4 && r.Comment == "fresh"
	})).Return(nil)
	users.On("FindByID", mock.Anything, buyer.UserID).Return(&model.User{ID: buyer.UserID, Username: "otieno"}, nil)

	out, err := uc.UpdateReview(context.Background(), buyer, 5, intPtr(4), strPtr(" fresh "))
	require.NoError(t, err)
	assert.Equal(t, "otieno", out.Username)
	assert.Equal(t, 4, out.Rating)
}

// =====================
// Chat
// =====================

func TestChat_SendToSelfIsRejected(t *testing.T) {
	uc := usecase.NewChatUsecase(new(ChatRepoMock), new(UserRepoMock), fixedClock{testNow})
	_, err := uc.Send(context.Background(), buyer, buyer.UserID, "hi")
	assertKind(t, err, usecase.KindInvalidInput)
}

func TestChat_SendToUnknownUser(t *testing.T) {
	users := new(UserRepoMock)
	uc := usecase.NewChatUsecase(new(ChatRepoMock), users, fixedClock{testNow})
	users.On("FindByID", mock.Anything, int64(9)).Return(nil, repo.ErrNotFound)

	_, err := uc.Send(context.Background(), buyer, 9, "hi")
	assertKind(t, err, usecase.KindNotFound)
}

func TestChat_Send(t *testing.T) {
	msgs := new(ChatRepoMock)
	users := new(UserRepoMock)
	uc := usecase.NewChatUsecase(msgs, users, fixedClock{testNow})

	users.On("FindByID", mock.Anything, farmer.UserID).Return(&model.User{ID: farmer.UserID}, nil)
	msgs.On("Create", mock.Anything, mock.MatchedBy(func(m *model.ChatMessage) bool {
		return m.SenderID == buyer.UserID && m.ReceiverID == farmer.UserID && m.Message == "is the kale fresh?"
	})).Return(nil)

	out, err := uc.Send(context.Background(), buyer, farmer.UserID, " is the kale fresh? ")
	require.NoError(t, err)
	assert.Equal(t, int64(99), out.ID)
	assert.False(t, out.Read)
}

func TestChat_ConversationPaging(t *testing.T) {
	msgs := new(ChatRepoMock)
	uc := usecase.NewChatUsecase(msgs, new(UserRepoMock), fixedClock{testNow})

	msgs.On("ListConversation", mock.Anything, buyer.UserID, farmer.UserID, 1, 100).Return(nil, int64(250), nil)

	out, err := uc.Conversation(context.Background(), buyer, farmer.UserID, 0, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.Pages)
	assert.Equal(t, 1, out.CurrentPage)
	assert.NotNil(t, out.Messages)
}

func TestChat_MarkRead(t *testing.T) {
	msgs := new(ChatRepoMock)
	uc := usecase.NewChatUsecase(msgs, new(UserRepoMock), fixedClock{testNow})
	msgs.On("MarkRead", mock.Anything, farmer.UserID, buyer.UserID).Return(int64(2), nil)

	n, err := uc.MarkRead(context.Background(), buyer, farmer.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = uc.MarkRead(context.Background(), buyer, 0)
	assertKind(t, err, usecase.KindInvalidInput)
}
