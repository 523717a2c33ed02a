package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	"github.com/vladislavdragonenkov/reconciler/internal/storage/memory"
)

func newOrder(id string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:       id,
		OwnerID:  "owner-1",
		Status:   domain.OrderStatusPending,
		Currency: "USD",
		Amount:   decimal.RequireFromString("50.00"),
		Items: []domain.OrderItem{
			{ID: "item-1", ProductID: "product-1", Qty: 5, UnitPrice: decimal.RequireFromString("10.00"), CreatedAt: createdAt},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", time.Now().UTC())

	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, order); !errors.Is(err, domain.ErrOrderAlreadyExists) {
		t.Fatalf("expected ErrOrderAlreadyExists, got %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != order.ID {
		t.Fatalf("expected id %s, got %s", order.ID, stored.ID)
	}

	stored.Items[0].Qty = 100
	again, _ := repo.Get(ctx, order.ID)
	if again.Items[0].Qty != 5 {
		t.Fatal("stored order must not share items with callers")
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_CompletePending(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	now := time.Now().UTC()
	if err := repo.Create(ctx, newOrder("order-1", now)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated, err := repo.CompletePending(ctx, "order-1", domain.Completion{TransactionID: "tx_1", PayerReference: "payer-9", At: now})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if updated.Status != domain.OrderStatusCompleted || updated.ExternalReference != "tx_1" || updated.PayerReference != "payer-9" {
		t.Fatalf("unexpected order after completion: %+v", updated)
	}
	if updated.Version != 1 {
		t.Fatalf("expected version 1, got %d", updated.Version)
	}

	if _, err := repo.CompletePending(ctx, "order-1", domain.Completion{TransactionID: "tx_1", At: now}); !errors.Is(err, domain.ErrTransitionRejected) {
		t.Fatalf("expected ErrTransitionRejected on second completion, got %v", err)
	}
	if _, err := repo.CancelPending(ctx, "order-1", "tx_1", now); !errors.Is(err, domain.ErrTransitionRejected) {
		t.Fatalf("expected ErrTransitionRejected on cancel of completed order, got %v", err)
	}
	if _, err := repo.CompletePending(ctx, "missing", domain.Completion{TransactionID: "tx_1"}); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_CompletePendingReferenceBound(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", time.Now().UTC())
	order.ExternalReference = "tx_1"
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := repo.CompletePending(ctx, "order-1", domain.Completion{TransactionID: "tx_2"}); !errors.Is(err, domain.ErrTransitionRejected) {
		t.Fatalf("expected reference conflict to be rejected, got %v", err)
	}
	updated, err := repo.CompletePending(ctx, "order-1", domain.Completion{TransactionID: "tx_1"})
	if err != nil {
		t.Fatalf("complete with bound reference failed: %v", err)
	}
	if updated.ExternalReference != "tx_1" {
		t.Fatalf("reference must stay tx_1, got %s", updated.ExternalReference)
	}
}

func TestOrderRepository_CancelStale(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	now := time.Now().UTC()

	for _, order := range []domain.Order{
		newOrder("old-1", now.Add(-26*time.Hour)),
		newOrder("old-2", now.Add(-25*time.Hour)),
		newOrder("fresh", now.Add(-time.Hour)),
	} {
		if err := repo.Create(ctx, order); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}
	if _, err := repo.CompletePending(ctx, "old-2", domain.Completion{TransactionID: "tx", At: now}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	cancelled, err := repo.CancelStale(ctx, now.Add(-24*time.Hour), 10, now)
	if err != nil {
		t.Fatalf("cancel stale failed: %v", err)
	}
	if len(cancelled) != 1 || cancelled[0].ID != "old-1" {
		t.Fatalf("expected only old-1 cancelled, got %+v", cancelled)
	}

	fresh, _ := repo.Get(ctx, "fresh")
	if fresh.Status != domain.OrderStatusPending {
		t.Fatalf("fresh order must stay pending, got %s", fresh.Status)
	}
	completed, _ := repo.Get(ctx, "old-2")
	if completed.Status != domain.OrderStatusCompleted {
		t.Fatalf("completed order must stay completed, got %s", completed.Status)
	}
}

func TestOrderRepository_CancelStaleLimit(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	now := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		if err := repo.Create(ctx, newOrder(id, now.Add(-time.Duration(30-i)*time.Hour))); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	first, err := repo.CancelStale(ctx, now.Add(-24*time.Hour), 2, now)
	if err != nil {
		t.Fatalf("cancel stale failed: %v", err)
	}
	if len(first) != 2 || first[0].ID != "a" || first[1].ID != "b" {
		t.Fatalf("expected oldest two orders, got %+v", first)
	}
	second, _ := repo.CancelStale(ctx, now.Add(-24*time.Hour), 2, now)
	if len(second) != 1 || second[0].ID != "c" {
		t.Fatalf("expected remaining order, got %+v", second)
	}
}

func TestOrderRepository_ConcurrentTransitionsSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	now := time.Now().UTC()
	if err := repo.Create(ctx, newOrder("order-1", now.Add(-48*time.Hour))); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				if _, err := repo.CompletePending(ctx, "order-1", domain.Completion{TransactionID: "tx_1", At: now}); err == nil {
					wins.Add(1)
				}
				return
			}
			cancelled, _ := repo.CancelStale(ctx, now.Add(-24*time.Hour), 10, now)
			wins.Add(int32(len(cancelled)))
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winning transition, got %d", wins.Load())
	}
}

func TestTransactor_ReturnsErrorWithoutRollback(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()
	now := time.Now().UTC()
	if err := repo.Create(ctx, newOrder("O1", now)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	boom := errors.New("boom")
	err := memory.NewTransactor().Do(ctx, func(ctx context.Context) error {
		if _, err := repo.CompletePending(ctx, "O1", domain.Completion{TransactionID: "tx_1", At: now}); err != nil {
			return err
		}
		return boom
	})
	if err != boom {
		t.Fatalf("expected fn error unchanged, got %v", err)
	}

	got, err := repo.Get(ctx, "O1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.OrderStatusCompleted {
		t.Fatalf("writes before the error stay applied, got %s", got.Status)
	}
}
