package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"agriconnect/internal/domain/model"
	repo "agriconnect/internal/repository"
	"agriconnect/internal/validator"
)

type ReviewUsecase struct {
	reviews  repo.ReviewRepository
	products repo.ProductRepository
	users    repo.UserRepository
	clock    Clock
}

func NewReviewUsecase(reviews repo.ReviewRepository, products repo.ProductRepository, users repo.UserRepository, clock Clock) *ReviewUsecase {
	return &ReviewUsecase{reviews: reviews, products: products, users: users, clock: clock}
}

type ReviewInput struct {
	ProductID int64
	Rating    int
	Comment   string
}

type ReviewOutput struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	ProductID int64     `json:"product_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

func (u *ReviewUsecase) ListReviews(ctx context.Context, productID *int64) ([]ReviewOutput, error) {
	if productID != nil && *productID <= 0 {
		return nil, invalidInput("invalid product_id")
	}
	items, err := u.reviews.List(ctx, productID)
	if err != nil {
		return nil, internalError(err)
	}

	ids := make([]int64, 0, len(items))
	for _, r := range items {
		ids = append(ids, r.UserID)
	}
	users, err := u.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, internalError(err)
	}
	names := make(map[int64]string, len(users))
	for _, us := range users {
		names[us.ID] = us.Username
	}

	out := make([]ReviewOutput, 0, len(items))
	for _, r := range items {
		out = append(out, toReviewOutput(r, names[r.UserID]))
	}
	return out, nil
}

// 1ユーザー1商品につき1件
func (u *ReviewUsecase) CreateReview(ctx context.Context, actor Actor, in ReviewInput) (ReviewOutput, error) {
	if in.ProductID <= 0 {
		return ReviewOutput{}, invalidInput("product_id is required")
	}
	if err := validateReview(in.Rating, in.Comment); err != nil {
		return ReviewOutput{}, err
	}

	if _, err := u.products.FindByID(ctx, in.ProductID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ReviewOutput{}, notFound("product")
		}
		return ReviewOutput{}, internalError(err)
	}

	_, exists, err := u.reviews.FindByUserAndProduct(ctx, actor.UserID, in.ProductID)
	if err != nil {
		return ReviewOutput{}, internalError(err)
	}
	if exists {
		return ReviewOutput{}, NewError(KindConflict, "you have already reviewed this product")
	}

	now := u.clock.Now()
	r, err := u.reviews.Create(ctx, model.Review{
		UserID:    actor.UserID,
		ProductID: in.ProductID,
		Rating:    in.Rating,
		Comment:   strings.TrimSpace(in.Comment),
		CreatedAt: now,
		UpdatedAt: now,
	})
	//同時投稿は一意制約で弾く
	if errors.Is(err, repo.ErrDuplicate) {
		return ReviewOutput{}, NewError(KindConflict, "you have already reviewed this product")
	}
	if err != nil {
		return ReviewOutput{}, internalError(err)
	}
	return u.withUsername(ctx, r)
}

func (u *ReviewUsecase) UpdateReview(ctx context.Context, actor Actor, reviewID int64, rating *int, comment *string) (ReviewOutput, error) {
	r, err := u.ownReview(ctx, actor, reviewID)
	if err != nil {
		return ReviewOutput{}, err
	}
	if rating != nil {
		r.Rating = *rating
	}
	if comment != nil {
		r.Comment = strings.TrimSpace(*comment)
	}
	if err := validateReview(r.Rating, r.Comment); err != nil {
		return ReviewOutput{}, err
	}
	r.UpdatedAt = u.clock.Now()

	if err := u.reviews.Update(ctx, r); err != nil {
		return ReviewOutput{}, internalError(err)
	}
	return u.withUsername(ctx, r)
}

func (u *ReviewUsecase) DeleteReview(ctx context.Context, actor Actor, reviewID int64) error {
	if _, err := u.ownReview(ctx, actor, reviewID); err != nil {
		return err
	}
	err := u.reviews.Delete(ctx, reviewID)
	if errors.Is(err, repo.ErrNotFound) {
		return notFound("review")
	}
	if err != nil {
		return internalError(err)
	}
	return nil
}

// 投稿者本人のレビューだけ返す
func (u *ReviewUsecase) ownReview(ctx context.Context, actor Actor, reviewID int64) (model.Review, error) {
	if reviewID <= 0 {
		return model.Review{}, invalidInput("invalid review id")
	}
	r, err := u.reviews.FindByID(ctx, reviewID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Review{}, notFound("review")
	}
	if err != nil {
		return model.Review{}, internalError(err)
	}
	if r.UserID != actor.UserID {
		return model.Review{}, forbidden("you can only modify your own reviews")
	}
	return r, nil
}

func (u *ReviewUsecase) withUsername(ctx context.Context, r model.Review) (ReviewOutput, error) {
	user, err := u.users.FindByID(ctx, r.UserID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return ReviewOutput{}, internalError(err)
	}
	name := ""
	if user != nil {
		name = user.Username
	}
	return toReviewOutput(r, name), nil
}

func validateReview(rating int, comment string) error {
	if err := validator.Rating(rating); err != nil {
		return invalidInput(err.Error())
	}
	if err := validator.MaxLen("comment", comment, 2000); err != nil {
		return invalidInput(err.Error())
	}
	return nil
}

func toReviewOutput(r model.Review, username string) ReviewOutput {
	return ReviewOutput{
		ID:        r.ID,
		UserID:    r.UserID,
		Username:  username,
		ProductID: r.ProductID,
		Rating:    r.Rating,
		Comment:   r.Comment,
		CreatedAt: r.CreatedAt,
	}
}
