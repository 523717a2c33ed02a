package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
// Все переходы статуса условные: применяются только к заказу в pending.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderAlreadyExists, если запись с таким ID уже существует.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// CompletePending переводит заказ pending → completed и привязывает транзакцию шлюза.
	// Если заказ уже не pending или привязан к другой транзакции, возвращает ErrTransitionRejected.
	CompletePending(ctx context.Context, id string, change Completion) (Order, error)
	// CancelPending переводит заказ pending → cancelled по событию отказа.
	CancelPending(ctx context.Context, id, transactionID string, at time.Time) (Order, error)
	// CancelStale отменяет до limit заказов в pending, созданных раньше before.
	// Каждая строка проверяется на status = pending в момент записи.
	CancelStale(ctx context.Context, before time.Time, limit int, at time.Time) ([]Order, error)
}

// Completion — данные успешной оплаты, применяемые к заказу.
type Completion struct {
	TransactionID  string
	PayerReference string
	At             time.Time
}

// CatalogRepository хранит счётчики продаж товаров.
type CatalogRepository interface {
	// IncrementSales увеличивает счётчик продаж каждого товара на количество в позиции.
	IncrementSales(ctx context.Context, items []OrderItem) error
}

// Transactor выполняет fn атомарно: все записи внутри либо применяются, либо нет.
type Transactor interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}
