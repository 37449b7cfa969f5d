package handler

import (
	"io"
	"net/http"

	"agriconnect/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 決済通知は1MBまで
const maxCallbackBody = 1 << 20

// 決済ゲートウェイからの通知（認証なし）
type PaymentHandler struct {
	uc *usecase.PaymentUsecase
}

func NewPaymentHandler(uc *usecase.PaymentUsecase) *PaymentHandler {
	return &PaymentHandler{uc: uc}
}

func (h *PaymentHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/payment-callback", h.callback)
	e.POST("/mpesa-callback", h.callback)
}

// 失敗はすべて400で返す。5xxはゲートウェイの再送を招く
func (h *PaymentHandler) callback(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCallbackBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unreadable body", Code: string(usecase.KindMalformedCallback)})
	}

	out, err := h.uc.HandlePaymentNotification(c.Request().Context(), raw)
	if err != nil {
		resp := ErrorResponse{Error: "callback rejected", Code: string(usecase.KindInternal)}
		if ae, ok := usecase.AsAppError(err); ok {
			resp.Code = string(ae.Kind)
			if ae.Kind != usecase.KindInternal {
				resp.Error = ae.Message
				resp.Details = ae.Details
			}
		}
		return c.JSON(http.StatusBadRequest, resp)
	}
	return c.JSON(http.StatusOK, out)
}
