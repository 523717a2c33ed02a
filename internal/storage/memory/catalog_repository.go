package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// CatalogRepository хранит счётчики продаж в памяти.
type CatalogRepository struct {
	mu    sync.RWMutex
	sales map[string]int64
}

// NewCatalogRepository создаёт in-memory каталог.
func NewCatalogRepository() *CatalogRepository {
	return &CatalogRepository{sales: make(map[string]int64)}
}

// IncrementSales увеличивает счётчики всех товаров заказа.
func (r *CatalogRepository) IncrementSales(_ context.Context, items []domain.OrderItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range items {
		r.sales[item.ProductID] += int64(item.Qty)
	}
	return nil
}

// SalesCount возвращает текущее значение счётчика товара.
func (r *CatalogRepository) SalesCount(productID string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sales[productID]
}

var _ domain.CatalogRepository = (*CatalogRepository)(nil)
