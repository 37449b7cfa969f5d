package middleware

import (
	"errors"
	"net/http"

	"agriconnect/internal/repository"

	"github.com/labstack/echo/v4"
)

// JWTのユーザーがDBに残っているか確認し、roleをDBの値にそろえる。
func AccountGuard(userRepo repository.UserRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			//AuthJWTが入れたuser_id を取得する
			rawUserID := c.Get(CtxUserIDKey)
			userID, ok := rawUserID.(int64)
			if !ok || userID <= 0 {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized", "unauthorized"))
			}

			//DBから最新のuserを取得する
			user, err := userRepo.FindByID(c.Request().Context(), userID)
			if errors.Is(err, repository.ErrNotFound) || (err == nil && user == nil) {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized", "account not found"))
			}
			if err != nil {
				return c.JSON(http.StatusInternalServerError, errorJSON("internal", "internal error"))
			}

			//トークンのroleは信用しない
			c.Set(CtxUserRoleKey, user.Role)

			return next(c)
		}
	}
}
