package middleware

import (
	"net/http"

	"agriconnect/internal/domain/model"

	"github.com/labstack/echo/v4"
)

// contextのroleが許可されたものか確認します。

func RoleGuard(allowed ...model.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, ok := RoleFrom(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized", "unauthorized"))
			}

			for _, r := range allowed {
				if role == r {
					return next(c)
				}
			}
			return c.JSON(http.StatusForbidden, errorJSON("forbidden", "insufficient role"))
		}
	}
}

// AuthJWTは文字列、AccountGuardはmodel.Roleを入れる
func RoleFrom(c echo.Context) (model.Role, bool) {
	switch v := c.Get(CtxUserRoleKey).(type) {
	case model.Role:
		return v, v != ""
	case string:
		return model.Role(v), v != ""
	default:
		return "", false
	}
}

func UserIDFrom(c echo.Context) (int64, bool) {
	id, ok := c.Get(CtxUserIDKey).(int64)
	return id, ok && id > 0
}
