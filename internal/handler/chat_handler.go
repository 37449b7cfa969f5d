package handler

import (
	"net/http"
	"strconv"

	"agriconnect/internal/middleware"
	"agriconnect/internal/repository"
	"agriconnect/internal/usecase"

	"github.com/labstack/echo/v4"
)

type ChatHandler struct {
	chat  *usecase.ChatUsecase
	users *usecase.UserUsecase
}

func NewChatHandler(chat *usecase.ChatUsecase, users *usecase.UserUsecase) *ChatHandler {
	return &ChatHandler{chat: chat, users: users}
}

type chatSendRequest struct {
	Message string `json:"message"`
}

type markReadRequest struct {
	SenderID int64 `json:"sender_id"`
}

type markReadResponse struct {
	Updated int64 `json:"updated"`
}

// /chat と /users
func (h *ChatHandler) RegisterRoutes(e *echo.Echo, secret string, userRepo repository.UserRepository) {
	authed := []echo.MiddlewareFunc{
		middleware.AuthJWT(secret),
		middleware.AccountGuard(userRepo),
	}

	e.GET("/users", h.listUsers, authed...)

	g := e.Group("/chat", authed...)
	//静的パスを先に登録
	g.GET("/users", h.counterparts)
	g.POST("/mark-read", h.markRead)
	g.GET("/:other_user_id", h.conversation)
	g.POST("/:receiver_id", h.send)
}

func (h *ChatHandler) listUsers(c echo.Context) error {
	out, err := h.users.ListUsers(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ChatHandler) counterparts(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	out, err := h.chat.Counterparts(c.Request().Context(), actor)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ChatHandler) conversation(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	otherID, ok := pathID(c, "other_user_id")
	if !ok {
		return badRequest(c, "invalid user id")
	}

	// page（default 1）
	page := 1
	if v := c.QueryParam("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return badRequest(c, "invalid page")
		}
		page = p
	}

	// per_page（default 20）
	perPage := 0
	if v := c.QueryParam("per_page"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil {
			return badRequest(c, "invalid per_page")
		}
		perPage = l
	}

	out, err := h.chat.Conversation(c.Request().Context(), actor, otherID, page, perPage)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ChatHandler) send(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	receiverID, ok := pathID(c, "receiver_id")
	if !ok {
		return badRequest(c, "invalid receiver id")
	}
	var req chatSendRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.chat.Send(c.Request().Context(), actor, receiverID, req.Message)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *ChatHandler) markRead(c echo.Context) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req markReadRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	n, err := h.chat.MarkRead(c.Request().Context(), actor, req.SenderID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, markReadResponse{Updated: n})
}
