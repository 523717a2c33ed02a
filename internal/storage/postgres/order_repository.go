package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

const orderColumns = `id, number, owner_id, currency, amount, status,
	external_reference, payer_reference, version, created_at, updated_at`

type orderRepository struct {
	store *Store
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
// Переходы статуса выполняются условными UPDATE ... WHERE status = 'pending'.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order     domain.Order
		status    string
		reference sql.NullString
		payer     sql.NullString
	)
	if err := row.Scan(
		&order.ID, &order.Number, &order.OwnerID, &order.Currency, &order.Amount, &status,
		&reference, &payer, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.ExternalReference = reference.String
	order.PayerReference = payer.String
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.store.trm.Do(ctx, func(ctx context.Context) error {
		conn := r.store.conn(ctx)

		_, err := conn.ExecContext(ctx, `
			INSERT INTO orders (
				id, number, owner_id, currency, amount, status,
				external_reference, payer_reference, version, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`,
			order.ID, order.Number, order.OwnerID, order.Currency, order.Amount, string(order.Status),
			nullable(order.ExternalReference), nullable(order.PayerReference),
			order.Version, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderAlreadyExists
			}
			return wrapErr("insert order", err)
		}

		for _, item := range order.Items {
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO order_items (
					id, order_id, product_id, qty, unit_price, created_at
				) VALUES ($1,$2,$3,$4,$5,$6)
			`,
				item.ID, order.ID, item.ProductID, item.Qty, item.UnitPrice, item.CreatedAt,
			); err != nil {
				return wrapErr("insert order item", err)
			}
		}

		return nil
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, wrapErr("select order", err)
	}

	if order.Items, err = r.loadItems(ctx, order.ID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) CompletePending(ctx context.Context, id string, change domain.Completion) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.store.conn(ctx).QueryRowContext(ctx, `
		UPDATE orders
		SET status = 'completed',
		    external_reference = COALESCE(external_reference, $2),
		    payer_reference = COALESCE($3, payer_reference),
		    version = version + 1,
		    updated_at = $4
		WHERE id = $1
		  AND status = 'pending'
		  AND (external_reference IS NULL OR external_reference = $2)
		RETURNING `+orderColumns,
		id, change.TransactionID, nullable(change.PayerReference), change.At,
	)
	return r.finishTransition(ctx, id, row, "complete order")
}

func (r *orderRepository) CancelPending(ctx context.Context, id, transactionID string, at time.Time) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.store.conn(ctx).QueryRowContext(ctx, `
		UPDATE orders
		SET status = 'cancelled',
		    version = version + 1,
		    updated_at = $3
		WHERE id = $1
		  AND status = 'pending'
		  AND (external_reference IS NULL OR external_reference = $2)
		RETURNING `+orderColumns,
		id, transactionID, at,
	)
	return r.finishTransition(ctx, id, row, "cancel order")
}

// finishTransition разбирает результат условного UPDATE. Ноль строк означает,
// что заказа нет либо условие перехода уже не выполняется.
func (r *orderRepository) finishTransition(ctx context.Context, id string, row *sql.Row, op string) (domain.Order, error) {
	order, err := scanOrder(row)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, wrapErr(op, err)
		}
		exists, existsErr := r.exists(ctx, id)
		if existsErr != nil {
			return domain.Order{}, existsErr
		}
		if !exists {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, domain.ErrTransitionRejected
	}

	if order.Items, err = r.loadItems(ctx, order.ID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) CancelStale(ctx context.Context, before time.Time, limit int, at time.Time) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 500
	}

	// SKIP LOCKED: строки, которые прямо сейчас финализирует сверка, пропускаются
	// и будут рассмотрены в следующем проходе, если останутся pending.
	rows, err := r.store.conn(ctx).QueryContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM orders
			WHERE status = 'pending'
			  AND created_at < $1
			ORDER BY created_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE orders o
		SET status = 'cancelled',
		    version = o.version + 1,
		    updated_at = $3
		FROM stale
		WHERE o.id = stale.id
		  AND o.status = 'pending'
		RETURNING o.id, o.number, o.owner_id, o.currency, o.amount, o.status,
			o.external_reference, o.payer_reference, o.version, o.created_at, o.updated_at
	`, before, limit, at)
	if err != nil {
		return nil, wrapErr("cancel stale orders", err)
	}

	cancelled := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, wrapErr("scan cancelled order", err)
		}
		cancelled = append(cancelled, order)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, wrapErr("iterate cancelled orders", err)
	}
	_ = rows.Close()

	for i := range cancelled {
		if cancelled[i].Items, err = r.loadItems(ctx, cancelled[i].ID); err != nil {
			return nil, err
		}
	}

	return cancelled, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.store.conn(ctx).QueryContext(ctx, `
		SELECT id, product_id, qty, unit_price, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, wrapErr("load order items", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Qty, &item.UnitPrice, &item.CreatedAt); err != nil {
			return nil, wrapErr("scan order item", err)
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate order items", err)
	}

	return items, nil
}

func (r *orderRepository) exists(ctx context.Context, orderID string) (bool, error) {
	var id string
	err := r.store.conn(ctx).QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, wrapErr("check order exists", fmt.Errorf("order %s: %w", orderID, err))
}

var _ domain.OrderRepository = (*orderRepository)(nil)
