package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующего владельца заказа.
	ErrOwnerRequired = errors.New("owner_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка неизвестного статуса заказа.
	ErrStatusInvalid = errors.New("order status is invalid")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// ErrAmountNotRepresentable — сумму нельзя выразить целым числом минимальных единиц.
	ErrAmountNotRepresentable = errors.New("amount is not representable in minor units")
	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// Ошибка отсутствующего идентификатора транзакции шлюза.
	ErrTransactionIDRequired = errors.New("gateway transaction id is required")
	// Ошибка неизвестного типа платёжного события.
	ErrEventKindInvalid = errors.New("payment event kind is invalid")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists возвращается при повторном создании заказа с тем же ID.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrTransitionRejected — условная запись не применилась: статус уже не pending
	// или привязка к транзакции не совпала.
	ErrTransitionRejected = errors.New("order transition rejected")
	// ErrStorageUnavailable — временная ошибка хранилища, задачу нужно повторить.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrOwnerNotFound — владелец заказа отсутствует в справочнике.
	ErrOwnerNotFound = errors.New("owner not found")
	// ErrNotificationFailed — ошибка отправки уведомления.
	ErrNotificationFailed = errors.New("notification dispatch failed")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsTransitionRejected проверяет, проиграла ли запись гонку за переход статуса.
func IsTransitionRejected(err error) bool {
	return errors.Is(err, ErrTransitionRejected)
}

// IsRetryable сообщает, стоит ли повторять задачу при данной ошибке.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
