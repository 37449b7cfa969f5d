package validator

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// 入力が不正
var ErrInvalidInput = errors.New("invalid input")

// フィールド単位の検証エラー
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidInput }

func fieldErr(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}

var (
	phoneRe    = regexp.MustCompile(`^\+?[0-9]{9,14}$`)
	usernameRe = regexp.MustCompile(`^[A-Za-z0-9_.\-]{3,80}$`)
)

// 連絡先電話番号（先頭+可、数字のみ、カラム長15以内）
func PhoneNumber(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fieldErr("phone_number", "is required")
	}
	if !phoneRe.MatchString(s) {
		return fieldErr("phone_number", "must be 9-14 digits with optional leading +")
	}
	return nil
}

func Username(s string) error {
	if !usernameRe.MatchString(strings.TrimSpace(s)) {
		return fieldErr("username", "must be 3-80 letters, digits, '_', '.' or '-'")
	}
	return nil
}

// 簡易メール形式をチェック
func Email(s string) error {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || len(trimmed) > 120 {
		return fieldErr("email", "is required")
	}
	if _, err := mail.ParseAddress(trimmed); err != nil {
		return fieldErr("email", "is invalid")
	}
	return nil
}

// パスワード最低文字数（8）
func Password(s string) error {
	if len(s) < 8 {
		return fieldErr("password", "must be at least 8 characters")
	}
	if len(s) > 72 {
		return fieldErr("password", "must be at most 72 bytes")
	}
	return nil
}

// 評価は1〜5
func Rating(r int) error {
	if r < 1 || r > 5 {
		return fieldErr("rating", "must be between 1 and 5")
	}
	return nil
}

// 必須かつ最大長以内
func Text(field string, s string, max int) error {
	t := strings.TrimSpace(s)
	if t == "" {
		return fieldErr(field, "is required")
	}
	if len(t) > max {
		return fieldErr(field, fmt.Sprintf("must be at most %d characters", max))
	}
	return nil
}

// 任意項目の最大長
func MaxLen(field string, s string, max int) error {
	if len(s) > max {
		return fieldErr(field, fmt.Sprintf("must be at most %d characters", max))
	}
	return nil
}
