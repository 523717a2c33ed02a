package memory

import (
	"context"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// Transactor выполняет функцию без настоящей транзакции.
// Атомарность перехода обеспечивает сам репозиторий заказов: повторные вызовы
// отсекаются проверкой статуса, поэтому последующие записи выполняются ровно один раз.
type Transactor struct{}

// NewTransactor создаёт in-memory Transactor.
func NewTransactor() Transactor {
	return Transactor{}
}

// Do вызывает fn с тем же контекстом и возвращает её ошибку как есть.
// Записи, сделанные до ошибки, остаются: отката нет. Если репозитории
// памяти начнут возвращать ошибки записи, нужен настоящий журнал отмены.
func (Transactor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var _ domain.Transactor = Transactor{}
