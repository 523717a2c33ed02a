package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа маркетплейса.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан checkout-ом и ждёт результата оплаты.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusCompleted — оплата подтверждена шлюзом, заказ финализирован.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled — оплата не прошла либо заказ просрочен.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// OrderItem представляет позицию заказа со снимком цены на момент оформления.
type OrderItem struct {
	ID        string
	ProductID string
	Qty       int32
	// UnitPrice фиксируется checkout-ом и дальше не меняется.
	UnitPrice decimal.Decimal
	CreatedAt time.Time
}

// Order — агрегат, который сверяется с платёжным шлюзом.
type Order struct {
	ID       string
	Number   string
	OwnerID  string
	Currency string
	// Amount задаётся при создании; сверка его никогда не меняет.
	Amount decimal.Decimal
	Status OrderStatus
	// ExternalReference — идентификатор транзакции шлюза. Пустая строка означает NULL;
	// после установки значение может только подтверждаться.
	ExternalReference string
	PayerReference    string
	Items             []OrderItem
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AmountMinor переводит сумму заказа в минимальные единицы валюты шлюза.
func (o *Order) AmountMinor() (int64, error) {
	return ToMinorUnits(o.Amount, o.Currency)
}

// HasExternalReference сообщает, привязан ли заказ к транзакции шлюза.
func (o *Order) HasExternalReference() bool {
	return o.ExternalReference != ""
}

// Summary формирует краткое описание заказа для уведомлений.
func (o *Order) Summary() OrderSummary {
	return OrderSummary{
		OrderID:  o.ID,
		Number:   o.Number,
		Amount:   o.Amount,
		Currency: o.Currency,
		Status:   o.Status,
		Items:    len(o.Items),
	}
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.ID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if o.OwnerID == "" {
		errs = append(errs, ErrOwnerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrStatusInvalid)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.Amount.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	calc := decimal.Zero
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc = calc.Add(item.UnitPrice.Mul(decimal.NewFromInt32(item.Qty)))
	}
	if !calc.Equal(o.Amount) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// OrderSummary — то, что уходит владельцу заказа в уведомлении.
type OrderSummary struct {
	OrderID  string          `json:"order_id"`
	Number   string          `json:"number"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Status   OrderStatus     `json:"status"`
	Items    int             `json:"items"`
}
