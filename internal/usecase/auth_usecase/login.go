package auth

import (
	"context"
	"errors"
	"strings"

	"agriconnect/internal/repository"
	"agriconnect/internal/usecase"
)

// handlerからusecaseに渡す入力
type LoginInput struct {
	Username string
	Password string
}

// 入力パスワードと保存したハッシュを比べる約束
type PasswordVerifier interface {
	Verify(plain string, hashed string) bool
}

// ユーザー名またはパスワードが違う
var ErrInvalidCredentials = usecase.NewError(usecase.KindUnauthorized, "invalid credentials")

type LoginUsecase struct {
	userRepo repository.UserRepository
	verifier PasswordVerifier
	issuer   AccessTokenIssuer
	clock    usecase.Clock
}

func NewLoginUsecase(
	userRepo repository.UserRepository,
	verifier PasswordVerifier,
	issuer AccessTokenIssuer,
	clock usecase.Clock,
) *LoginUsecase {
	return &LoginUsecase{
		userRepo: userRepo,
		verifier: verifier,
		issuer:   issuer,
		clock:    clock,
	}
}

// ログイン処理を実行する
func (u *LoginUsecase) Execute(ctx context.Context, in LoginInput) (AuthOutput, error) {
	var out AuthOutput

	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return out, usecase.NewError(usecase.KindInvalidInput, "username and password are required")
	}

	//usernameでユーザー取得
	user, err := u.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return out, ErrInvalidCredentials
		}
		return out, usecase.NewError(usecase.KindInternal, "failed to load user")
	}

	//パスワード照合
	if ok := u.verifier.Verify(in.Password, user.PasswordHash); !ok {
		return out, ErrInvalidCredentials
	}

	//AccessToken発行
	token, _, err := u.issuer.Issue(user.ID, user.Role, u.clock.Now())
	if err != nil {
		return out, usecase.NewError(usecase.KindInternal, "failed to issue token")
	}

	out.Token = token
	out.User = *user
	return out, nil
}
