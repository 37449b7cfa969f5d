package handler

import (
	"net/http"
	"strconv"

	"agriconnect/internal/middleware"
	"agriconnect/internal/usecase"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

// 業務エラーの種類 → HTTPステータス
func statusFor(kind usecase.ErrorKind) int {
	switch kind {
	case usecase.KindNotFound:
		return http.StatusNotFound
	case usecase.KindForbidden:
		return http.StatusForbidden
	case usecase.KindUnauthorized:
		return http.StatusUnauthorized
	case usecase.KindInsufficientStock, usecase.KindInvalidInput, usecase.KindMalformedCallback:
		return http.StatusBadRequest
	case usecase.KindInvalidTransition, usecase.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}
	if ae, ok := usecase.AsAppError(err); ok && ae.Kind != usecase.KindInternal {
		return c.JSON(statusFor(ae.Kind), ErrorResponse{
			Error:   ae.Message,
			Code:    string(ae.Kind),
			Details: ae.Details,
		})
	}

	//500（中身は返さない）
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: string(usecase.KindInternal)})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: string(usecase.KindInvalidInput)})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: string(usecase.KindUnauthorized)})
}

// middlewareが入れたユーザー
func actorFrom(c echo.Context) (usecase.Actor, bool) {
	id, ok := middleware.UserIDFrom(c)
	if !ok {
		return usecase.Actor{}, false
	}
	role, ok := middleware.RoleFrom(c)
	if !ok {
		return usecase.Actor{}, false
	}
	return usecase.Actor{UserID: id, Role: role}, true
}

func pathID(c echo.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// 空ならnil
func queryInt64(c echo.Context, name string) (*int64, bool) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, true
	}
	x, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, false
	}
	return &x, true
}
