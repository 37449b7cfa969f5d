package usecase

import (
	"context"

	repo "agriconnect/internal/repository"
)

type UserUsecase struct {
	users repo.UserRepository
}

func NewUserUsecase(users repo.UserRepository) *UserUsecase {
	return &UserUsecase{users: users}
}

// GET /users。パスワードなどは返さない
func (u *UserUsecase) ListUsers(ctx context.Context) ([]CounterpartOutput, error) {
	users, err := u.users.List(ctx)
	if err != nil {
		return nil, internalError(err)
	}
	return toCounterparts(users), nil
}
