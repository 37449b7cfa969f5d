package server

import (
	"net/http"

	"agriconnect/internal/handler"
	"agriconnect/internal/repository"

	"github.com/labstack/echo/v4"
)

type Handlers struct {
	Auth    *handler.AuthHandler
	Product *handler.ProductHandler
	Order   *handler.OrderHandler
	Payment *handler.PaymentHandler
	Review  *handler.ReviewHandler
	Chat    *handler.ChatHandler
}

// 認証ミドルウェアが使う
type RouteDeps struct {
	JWTSecret string
	Users     repository.UserRepository
}

type healthResponse struct {
	Status string `json:"status"`
}

func RegisterRoutes(e *echo.Echo, h Handlers, deps RouteDeps) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
	})

	h.Auth.RegisterRoutes(e)
	h.Product.RegisterRoutes(e, deps.JWTSecret, deps.Users)
	h.Order.RegisterRoutes(e, deps.JWTSecret, deps.Users)
	h.Payment.RegisterRoutes(e)
	h.Review.RegisterRoutes(e, deps.JWTSecret, deps.Users)
	h.Chat.RegisterRoutes(e, deps.JWTSecret, deps.Users)
}
