package domain

import (
	"errors"
	"fmt"
)

// RejectReason — причина, по которой валидатор отклонил платёжное событие.
type RejectReason string

const (
	RejectMalformedEvent         RejectReason = "malformed_event"
	RejectOrderNotFound          RejectReason = "order_not_found"
	RejectAlreadyProcessed       RejectReason = "already_processed"
	RejectAmountMismatch         RejectReason = "amount_mismatch"
	RejectAmountNotRepresentable RejectReason = "amount_not_representable"
	RejectCurrencyMismatch       RejectReason = "currency_mismatch"
	RejectOrderMismatch          RejectReason = "order_mismatch"
	RejectReferenceConflict      RejectReason = "reference_conflict"
	RejectKindMismatch           RejectReason = "kind_mismatch"
)

// RejectionError описывает отклонённое утверждение шлюза.
// Такое событие подтверждается (ack) и не повторяется.
type RejectionError struct {
	Reason   RejectReason
	Expected string
	Received string
}

func (e *RejectionError) Error() string {
	if e.Expected == "" && e.Received == "" {
		return fmt.Sprintf("payment event rejected: %s", e.Reason)
	}
	return fmt.Sprintf("payment event rejected: %s (expected %q, received %q)", e.Reason, e.Expected, e.Received)
}

// Reject — короткий конструктор для RejectionError.
func Reject(reason RejectReason, expected, received string) *RejectionError {
	return &RejectionError{Reason: reason, Expected: expected, Received: received}
}

// AsRejection извлекает RejectionError из цепочки ошибок.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// IsDuplicate сообщает, что событие относится к уже финализированному заказу.
func (e *RejectionError) IsDuplicate() bool {
	return e.Reason == RejectAlreadyProcessed
}
