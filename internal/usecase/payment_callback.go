package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// 決済ゲートウェイ（STK Push）の通知
type stkCallbackEnvelope struct {
	Body *struct {
		StkCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallback struct {
	MerchantRequestID string          `json:"MerchantRequestID"`
	CheckoutRequestID string          `json:"CheckoutRequestID"`
	ResultCode        json.RawMessage `json:"ResultCode"`
	ResultDesc        string          `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []callbackItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

type callbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// 検証済みの通知
type PaymentNotification struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	OrderID           int64
	Receipt           string
	Amount            *decimal.Decimal
}

// 支払い成功の通知か
func (n PaymentNotification) Succeeded() bool { return n.ResultCode == 0 }

const maxReceiptLen = 50

func malformed(format string, args ...interface{}) error {
	return &AppError{Kind: KindMalformedCallback, Message: fmt.Sprintf(format, args...)}
}

// 生のJSONを一度だけ検証してPaymentNotificationにする。
// 失敗はすべてMalformedCallback
func ParsePaymentNotification(raw []byte, accountPrefix string) (PaymentNotification, error) {
	var env stkCallbackEnvelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return PaymentNotification{}, malformed("invalid json: %v", err)
	}
	if env.Body == nil || env.Body.StkCallback == nil {
		return PaymentNotification{}, malformed("missing Body.stkCallback")
	}
	cb := env.Body.StkCallback

	n := PaymentNotification{
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultDesc:        cb.ResultDesc,
	}

	//ResultCodeが無ければ成功扱い
	if len(cb.ResultCode) > 0 && string(cb.ResultCode) != "null" {
		code, err := parseResultCode(cb.ResultCode)
		if err != nil {
			return PaymentNotification{}, err
		}
		n.ResultCode = code
	}

	var items []callbackItem
	if cb.CallbackMetadata != nil {
		items = cb.CallbackMetadata.Item
	}

	//失敗通知はメタデータが無いことがある
	if !n.Succeeded() {
		if ref, ok := findItem(items, "AccountReference"); ok {
			if id, err := parseAccountReference(ref, accountPrefix); err == nil {
				n.OrderID = id
			}
		}
		return n, nil
	}

	if len(items) == 0 {
		return PaymentNotification{}, malformed("missing Body.stkCallback.CallbackMetadata.Item")
	}

	ref, ok := findItem(items, "AccountReference")
	if !ok {
		return PaymentNotification{}, malformed("missing AccountReference")
	}
	orderID, err := parseAccountReference(ref, accountPrefix)
	if err != nil {
		return PaymentNotification{}, err
	}
	n.OrderID = orderID

	rv, ok := findItem(items, "MpesaReceiptNumber")
	if !ok {
		return PaymentNotification{}, malformed("missing MpesaReceiptNumber")
	}
	var receipt string
	if err := json.Unmarshal(rv, &receipt); err != nil {
		return PaymentNotification{}, malformed("MpesaReceiptNumber must be a string")
	}
	receipt = strings.TrimSpace(receipt)
	if receipt == "" || len(receipt) > maxReceiptLen {
		return PaymentNotification{}, malformed("MpesaReceiptNumber must be 1-%d characters", maxReceiptLen)
	}
	n.Receipt = receipt

	//金額は任意（照合ログ用）
	if av, ok := findItem(items, "Amount"); ok {
		var num json.Number
		if err := json.Unmarshal(av, &num); err == nil {
			if d, err := decimal.NewFromString(num.String()); err == nil {
				n.Amount = &d
			}
		}
	}

	return n, nil
}

func findItem(items []callbackItem, name string) (json.RawMessage, bool) {
	for _, it := range items {
		if it.Name == name {
			return it.Value, true
		}
	}
	return nil, false
}

// "ORDER42" → 42。接頭辞＋10進数のみ
func parseAccountReference(v json.RawMessage, prefix string) (int64, error) {
	var ref string
	if err := json.Unmarshal(v, &ref); err != nil {
		return 0, malformed("AccountReference must be a string")
	}
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, prefix) {
		return 0, malformed("AccountReference %q must start with %s", ref, prefix)
	}
	digits := strings.TrimPrefix(ref, prefix)
	if digits == "" {
		return 0, malformed("AccountReference %q has no order id", ref)
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, malformed("AccountReference %q has a non-numeric order id", ref)
		}
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || id <= 0 {
		return 0, malformed("AccountReference %q has an invalid order id", ref)
	}
	return id, nil
}

// 数値でも文字列でも受ける
func parseResultCode(v json.RawMessage) (int, error) {
	var num json.Number
	if err := json.Unmarshal(v, &num); err == nil {
		if i, err := strconv.Atoi(num.String()); err == nil {
			return i, nil
		}
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, nil
		}
	}
	return 0, malformed("ResultCode must be an integer")
}
