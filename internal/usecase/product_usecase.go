package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agriconnect/internal/domain/model"
	repo "agriconnect/internal/repository"
	"agriconnect/internal/validator"

	"github.com/shopspring/decimal"
)

type ProductUsecase struct {
	tx          repo.TransactionManager
	productRepo repo.ProductRepository
	users       repo.UserRepository
	clock       Clock
}

// DI
func NewProductUsecase(
	tx repo.TransactionManager,
	productRepo repo.ProductRepository,
	users repo.UserRepository,
	clock Clock,
) *ProductUsecase {
	return &ProductUsecase{
		tx:          tx,
		productRepo: productRepo,
		users:       users,
		clock:       clock,
	}
}

// GET /productsの入力DTO
type ListProductsInput struct {
	Category string
	FarmerID *int64
	Search   string
}

type ProductOutput struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	Quantity    int64           `json:"quantity"`
	ImageURL    string          `json:"image_url"`
	FarmerID    int64           `json:"farmer_id"`
	FarmerName  string          `json:"farmer_name"`
	FarmName    string          `json:"farm_name"`
	CreatedAt   time.Time       `json:"created_at"`
}

type ProductInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Category    string
	Quantity    int64
	ImageURL    string
}

// 部分更新（nilは変更しない）
type ProductPatch struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Category    *string
	Quantity    *int64
	ImageURL    *string
}

func (u *ProductUsecase) ListProducts(ctx context.Context, in ListProductsInput) ([]ProductOutput, error) {
	if len(in.Search) > 100 {
		return nil, invalidInput("search too long")
	}
	if in.FarmerID != nil && *in.FarmerID <= 0 {
		return nil, invalidInput("invalid farmer_id")
	}

	items, err := u.productRepo.List(ctx, repo.ProductListQuery{
		Category: in.Category,
		FarmerID: in.FarmerID,
		Search:   in.Search,
	})
	if err != nil {
		return nil, internalError(err)
	}

	farmers, err := u.farmersOf(ctx, items)
	if err != nil {
		return nil, internalError(err)
	}

	out := make([]ProductOutput, 0, len(items))
	for _, p := range items {
		out = append(out, toProductOutput(p, farmers[p.FarmerID]))
	}
	return out, nil
}

func (u *ProductUsecase) GetProduct(ctx context.Context, productID int64) (ProductOutput, error) {
	if productID <= 0 {
		return ProductOutput{}, invalidInput("invalid product id")
	}

	p, err := u.productRepo.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return ProductOutput{}, notFound("product")
	}
	if err != nil {
		return ProductOutput{}, internalError(err)
	}

	farmer, err := u.users.FindByID(ctx, p.FarmerID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return ProductOutput{}, internalError(err)
	}
	return toProductOutput(p, farmer), nil
}

func (u *ProductUsecase) CreateProduct(ctx context.Context, actor Actor, in ProductInput) (ProductOutput, error) {
	if actor.Role != model.RoleFarmer {
		return ProductOutput{}, forbidden("only farmers can create products")
	}
	if err := validateProduct(in.Name, in.Price, in.Quantity, in.Category, in.ImageURL); err != nil {
		return ProductOutput{}, err
	}

	now := u.clock.Now()
	p, err := u.productRepo.Create(ctx, model.Product{
		FarmerID:    actor.UserID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Price:       in.Price,
		Category:    strings.TrimSpace(in.Category),
		Quantity:    in.Quantity,
		ImageURL:    strings.TrimSpace(in.ImageURL),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return ProductOutput{}, internalError(err)
	}
	return u.GetProduct(ctx, p.ID)
}

// 所有農家だけ更新できる。数量の変更は調整履歴と監査ログを同じTxで残す
func (u *ProductUsecase) UpdateProduct(ctx context.Context, actor Actor, productID int64, patch ProductPatch) (ProductOutput, error) {
	if productID <= 0 {
		return ProductOutput{}, invalidInput("invalid product id")
	}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := r.Products().FindByID(ctx, productID)
		if errors.Is(err, repo.ErrNotFound) {
			return notFound("product")
		}
		if err != nil {
			return internalError(err)
		}
		if p.FarmerID != actor.UserID {
			return forbidden("you can only update your own products")
		}

		next := p
		if patch.Name != nil {
			next.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Description != nil {
			next.Description = *patch.Description
		}
		if patch.Price != nil {
			next.Price = *patch.Price
		}
		if patch.Category != nil {
			next.Category = strings.TrimSpace(*patch.Category)
		}
		if patch.ImageURL != nil {
			next.ImageURL = strings.TrimSpace(*patch.ImageURL)
		}
		if patch.Quantity != nil {
			next.Quantity = *patch.Quantity
		}
		if err := validateProduct(next.Name, next.Price, next.Quantity, next.Category, next.ImageURL); err != nil {
			return err
		}

		if err := r.Products().Update(ctx, next); err != nil {
			return internalError(err)
		}

		if next.Quantity != p.Quantity {
			if err := r.Inventory().SetStock(ctx, productID, next.Quantity); err != nil {
				return internalError(err)
			}
			if err := r.Inventory().CreateAdjustment(ctx, model.InventoryAdjustment{
				ProductID:   productID,
				ActorUserID: actor.UserID,
				Delta:       next.Quantity - p.Quantity,
				Reason:      "farmer edit",
				CreatedAt:   u.clock.Now(),
			}); err != nil {
				return internalError(err)
			}
			if err := r.AuditLogs().Create(ctx, model.AuditLog{
				ActorUserID:  actor.UserID,
				Action:       model.AuditActionUpdateStock,
				ResourceType: model.AuditResourceProduct,
				ResourceID:   productID,
				BeforeJSON:   fmt.Sprintf(`{"quantity":%d}`, p.Quantity),
				AfterJSON:    fmt.Sprintf(`{"quantity":%d}`, next.Quantity),
				CreatedAt:    u.clock.Now(),
			}); err != nil {
				return internalError(err)
			}
		}
		return nil
	})
	if err != nil {
		return ProductOutput{}, err
	}
	return u.GetProduct(ctx, productID)
}

func (u *ProductUsecase) DeleteProduct(ctx context.Context, actor Actor, productID int64) error {
	if productID <= 0 {
		return invalidInput("invalid product id")
	}

	p, err := u.productRepo.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return notFound("product")
	}
	if err != nil {
		return internalError(err)
	}
	if p.FarmerID != actor.UserID {
		return forbidden("you can only delete your own products")
	}

	err = u.productRepo.SoftDelete(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return notFound("product")
	}
	if err != nil {
		return internalError(err)
	}
	return nil
}

func validateProduct(name string, price decimal.Decimal, quantity int64, category string, imageURL string) error {
	if err := validator.Text("name", name, 100); err != nil {
		return invalidInput(err.Error())
	}
	if price.IsNegative() {
		return invalidInput("price must be >= 0")
	}
	//numeric(12,2)に収まる範囲
	if price.GreaterThanOrEqual(decimal.New(1, 10)) {
		return invalidInput("price too large")
	}
	if price.Exponent() < -2 && !price.Equal(price.Round(2)) {
		return invalidInput("price must have at most 2 decimal places")
	}
	if quantity < 0 {
		return invalidInput("quantity must be >= 0")
	}
	if err := validator.MaxLen("category", category, 50); err != nil {
		return invalidInput(err.Error())
	}
	if err := validator.MaxLen("image_url", imageURL, 200); err != nil {
		return invalidInput(err.Error())
	}
	return nil
}

func (u *ProductUsecase) farmersOf(ctx context.Context, products []model.Product) (map[int64]*model.User, error) {
	seen := map[int64]bool{}
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		if !seen[p.FarmerID] {
			seen[p.FarmerID] = true
			ids = append(ids, p.FarmerID)
		}
	}
	users, err := u.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*model.User, len(users))
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out, nil
}

func toProductOutput(p model.Product, farmer *model.User) ProductOutput {
	out := ProductOutput{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Category:    p.Category,
		Quantity:    p.Quantity,
		ImageURL:    p.ImageURL,
		FarmerID:    p.FarmerID,
		CreatedAt:   p.CreatedAt,
	}
	if farmer != nil {
		out.FarmerName = farmer.Username
		out.FarmName = farmer.FarmName
	}
	return out
}
