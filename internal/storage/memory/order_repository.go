package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// orderRepositoryInMemory простая in-memory реализация OrderRepository.
// Переходы статуса выполняются под одной блокировкой, что даёт compare-and-swap на уровне заказа.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// CompletePending переводит заказ в completed, если он всё ещё pending и не привязан к другой транзакции.
func (r *orderRepositoryInMemory) CompletePending(_ context.Context, id string, change domain.Completion) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if !canTransition(current, change.TransactionID) {
		return domain.Order{}, domain.ErrTransitionRejected
	}

	current.Status = domain.OrderStatusCompleted
	if current.ExternalReference == "" {
		current.ExternalReference = change.TransactionID
	}
	if change.PayerReference != "" {
		current.PayerReference = change.PayerReference
	}
	current.UpdatedAt = change.At
	current.Version++
	r.items[id] = current

	return cloneOrder(current), nil
}

// CancelPending переводит заказ в cancelled по событию отказа.
func (r *orderRepositoryInMemory) CancelPending(_ context.Context, id, transactionID string, at time.Time) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if !canTransition(current, transactionID) {
		return domain.Order{}, domain.ErrTransitionRejected
	}

	current.Status = domain.OrderStatusCancelled
	current.UpdatedAt = at
	current.Version++
	r.items[id] = current

	return cloneOrder(current), nil
}

// CancelStale отменяет самые старые pending-заказы, созданные раньше before.
func (r *orderRepositoryInMemory) CancelStale(_ context.Context, before time.Time, limit int, at time.Time) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := make([]domain.Order, 0)
	for _, order := range r.items {
		if order.Status == domain.OrderStatusPending && order.CreatedAt.Before(before) {
			candidates = append(candidates, order)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	cancelled := make([]domain.Order, 0, len(candidates))
	for _, order := range candidates {
		order.Status = domain.OrderStatusCancelled
		order.UpdatedAt = at
		order.Version++
		r.items[order.ID] = order
		cancelled = append(cancelled, cloneOrder(order))
	}

	return cancelled, nil
}

func canTransition(order domain.Order, transactionID string) bool {
	if order.Status != domain.OrderStatusPending {
		return false
	}
	return order.ExternalReference == "" || order.ExternalReference == transactionID
}

func cloneOrder(order domain.Order) domain.Order {
	if order.Items != nil {
		items := make([]domain.OrderItem, len(order.Items))
		copy(items, order.Items)
		order.Items = items
	}
	return order
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
