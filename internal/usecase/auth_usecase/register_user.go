package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"agriconnect/internal/domain/model"
	"agriconnect/internal/repository"
	"agriconnect/internal/usecase"
	"agriconnect/internal/validator"

	"golang.org/x/crypto/bcrypt"
)

// 会員登録の入力
type RegisterUserInput struct {
	Username string
	Email    string
	Password string
	UserType string
	FarmName string
	Location string
}

// register / login 共通の出力
type AuthOutput struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// 平文パスワードからハッシュへ。
type PasswordHasher interface {
	Hash(plain string) (string, error)
}

// JWTを発行する約束
type AccessTokenIssuer interface {
	Issue(userID int64, role model.Role, now time.Time) (token string, expiresAt time.Time, err error)
}

// RegisterUserUsecaseは会員登録の処理。
type RegisterUserUsecase struct {
	userRepo repository.UserRepository
	hasher   PasswordHasher
	issuer   AccessTokenIssuer
	clock    usecase.Clock
}

// DI
func NewRegisterUserUsecase(
	userRepo repository.UserRepository,
	hasher PasswordHasher,
	issuer AccessTokenIssuer,
	clock usecase.Clock,
) *RegisterUserUsecase {
	return &RegisterUserUsecase{
		userRepo: userRepo,
		hasher:   hasher,
		issuer:   issuer,
		clock:    clock,
	}
}

// 会員登録実行
func (u *RegisterUserUsecase) Execute(ctx context.Context, in RegisterUserInput) (AuthOutput, error) {
	var out AuthOutput

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)

	if err := validator.Username(username); err != nil {
		return out, usecase.NewError(usecase.KindInvalidInput, err.Error())
	}
	if err := validator.Email(email); err != nil {
		return out, usecase.NewError(usecase.KindInvalidInput, err.Error())
	}
	if err := validator.Password(in.Password); err != nil {
		return out, usecase.NewError(usecase.KindInvalidInput, err.Error())
	}
	role, ok := model.ParseRole(in.UserType)
	if !ok {
		return out, usecase.NewError(usecase.KindInvalidInput, "user_type must be farmer or buyer")
	}
	if err := validator.MaxLen("farm_name", in.FarmName, 100); err != nil {
		return out, usecase.NewError(usecase.KindInvalidInput, err.Error())
	}
	if err := validator.MaxLen("location", in.Location, 200); err != nil {
		return out, usecase.NewError(usecase.KindInvalidInput, err.Error())
	}

	// username / email の重複チェック
	if err := u.ensureFree(ctx, u.userRepo.FindByUsername, username, "username already exists"); err != nil {
		return out, err
	}
	if err := u.ensureFree(ctx, u.userRepo.FindByEmail, email, "email already exists"); err != nil {
		return out, err
	}

	// パスワードをハッシュ化
	hashed, err := u.hasher.Hash(in.Password)
	if err != nil {
		return out, usecase.NewError(usecase.KindInternal, "failed to hash password")
	}

	now := u.clock.Now()
	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hashed,
		Role:         role,
		FarmName:     strings.TrimSpace(in.FarmName),
		Location:     strings.TrimSpace(in.Location),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// DBへ保存（同時登録は一意制約で弾く）
	if err := u.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return out, usecase.NewError(usecase.KindConflict, "username or email already exists")
		}
		return out, usecase.NewError(usecase.KindInternal, "failed to create user")
	}

	token, _, err := u.issuer.Issue(user.ID, user.Role, now)
	if err != nil {
		return out, usecase.NewError(usecase.KindInternal, "failed to issue token")
	}

	out.Token = token
	out.User = *user
	return out, nil
}

func (u *RegisterUserUsecase) ensureFree(
	ctx context.Context,
	find func(context.Context, string) (*model.User, error),
	value string,
	msg string,
) error {
	existing, err := find(ctx, value)
	if err == nil && existing != nil {
		return usecase.NewError(usecase.KindConflict, msg)
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return usecase.NewError(usecase.KindInternal, "failed to check user")
	}
	return nil
}

// bcryptハッシュ化
type BcryptPasswordHasher struct {
	cost int
}

// DI
func NewBcryptPasswordHasher(cost int) *BcryptPasswordHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptPasswordHasher{cost}
}

// bcryptでハッシュ化
func (h *BcryptPasswordHasher) Hash(plain string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}

	return string(hashedBytes), nil
}

// bcryptハッシュと平文を比較
type BcryptPasswordVerifier struct{}

// DI
func NewBcryptPasswordVerifier() *BcryptPasswordVerifier {
	return &BcryptPasswordVerifier{}
}

// 平文(plain)をbcryptで比較
func (v *BcryptPasswordVerifier) Verify(plain string, hashed string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
	return err == nil
}
