package usecase

import (
	"errors"
	"fmt"
)

// 業務エラーの種類。HTTPステータスへの対応はhandlerが持つ
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindForbidden         ErrorKind = "forbidden"
	KindUnauthorized      ErrorKind = "unauthorized"
	KindInsufficientStock ErrorKind = "insufficient_stock"
	KindInvalidInput      ErrorKind = "invalid_input"
	KindMalformedCallback ErrorKind = "malformed_callback"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindConflict          ErrorKind = "conflict"
	KindInternal          ErrorKind = "internal"
)

type AppError struct {
	Kind    ErrorKind
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func NewError(kind ErrorKind, message string) error {
	return &AppError{Kind: kind, Message: message}
}

// 内部エラー。原因はログ用に保持し、レスポンスには出さない
func internalError(err error) error {
	return &AppError{Kind: KindInternal, Message: "internal error", Err: err}
}

func notFound(what string) error {
	return &AppError{Kind: KindNotFound, Message: what + " not found"}
}

func forbidden(message string) error {
	return &AppError{Kind: KindForbidden, Message: message}
}

func invalidInput(message string) error {
	return &AppError{Kind: KindInvalidInput, Message: message}
}

// 在庫不足。どの商品か／要求数／残数をDetailsに入れる
func insufficientStock(productID int64, name string, requested int64, available int64) error {
	return &AppError{
		Kind:    KindInsufficientStock,
		Message: fmt.Sprintf("insufficient quantity for %s", name),
		Details: map[string]interface{}{
			"product_id":   productID,
			"product_name": name,
			"requested":    requested,
			"available":    available,
		},
	}
}

func AsAppError(err error) (*AppError, bool) {
	var ae *AppError
	ok := errors.As(err, &ae)
	return ae, ok
}

// エラーの種類を取り出す（AppError以外はinternal）
func KindOf(err error) ErrorKind {
	if ae, ok := AsAppError(err); ok {
		return ae.Kind
	}
	return KindInternal
}
