package domain

import (
	"strings"
)

// PaymentEventKind — исход платежа, о котором сообщает шлюз.
type PaymentEventKind string

const (
	// PaymentEventSucceeded — шлюз подтвердил списание средств.
	PaymentEventSucceeded PaymentEventKind = "succeeded"
	// PaymentEventFailed — шлюз сообщил об отказе в оплате.
	PaymentEventFailed PaymentEventKind = "failed"
)

// Valid проверяет, что тип события поддерживается.
func (k PaymentEventKind) Valid() bool {
	return k == PaymentEventSucceeded || k == PaymentEventFailed
}

// PaymentMetadata — поля, которые checkout передал шлюзу и шлюз вернул обратно.
type PaymentMetadata struct {
	// OrderID уже приведён к строке декодером задачи.
	OrderID string
}

// PaymentEvent — недоверенное утверждение шлюза об исходе платежа.
// Ни одно поле не используется без проверки валидатором.
type PaymentEvent struct {
	EventID        string
	Kind           PaymentEventKind
	TransactionID  string
	OrderID        string
	AmountMinor    int64
	Currency       string
	PayerReference string
	Metadata       PaymentMetadata
}

// Validate проверяет форму события и возвращает ошибки, если они есть.
func (e *PaymentEvent) Validate() []error {
	var errs []error

	if !e.Kind.Valid() {
		errs = append(errs, ErrEventKindInvalid)
	}
	if strings.TrimSpace(e.TransactionID) == "" {
		errs = append(errs, ErrTransactionIDRequired)
	}
	if strings.TrimSpace(e.OrderID) == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if e.AmountMinor < 0 {
		errs = append(errs, ErrPaymentAmountNegative)
	}

	return errs
}

// NormalizeID приводит идентификатор к каноничной строке для сравнения.
func NormalizeID(id string) string {
	return strings.TrimSpace(id)
}
