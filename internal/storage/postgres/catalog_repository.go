package postgres

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

type catalogRepository struct {
	store *Store
}

// NewCatalogRepository создаёт PostgreSQL-реализацию CatalogRepository.
func NewCatalogRepository(store *Store) domain.CatalogRepository {
	return &catalogRepository{store: store}
}

// IncrementSales увеличивает products.sales_count на количество в каждой позиции.
// Товар, которого ещё нет в каталоге, заводится со счётчиком, равным количеству.
func (r *catalogRepository) IncrementSales(ctx context.Context, items []domain.OrderItem) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	conn := r.store.conn(ctx)
	for _, item := range items {
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO products (id, sales_count, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE
			SET sales_count = products.sales_count + EXCLUDED.sales_count,
			    updated_at = EXCLUDED.updated_at
		`, item.ProductID, int64(item.Qty), now); err != nil {
			return wrapErr("increment product sales", err)
		}
	}
	return nil
}

// SalesCount возвращает счётчик продаж товара (0, если товара нет).
func (r *catalogRepository) SalesCount(ctx context.Context, productID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int64
	err := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT COALESCE((SELECT sales_count FROM products WHERE id = $1), 0)
	`, productID).Scan(&count)
	if err != nil {
		return 0, wrapErr("select product sales", err)
	}
	return count, nil
}

var _ domain.CatalogRepository = (*catalogRepository)(nil)
