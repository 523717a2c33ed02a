package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	"github.com/vladislavdragonenkov/reconciler/internal/storage/memory"
)

var _ domain.OutboxRepository = (*stubRetentionRepo)(nil)

func TestRetentionWorker_Purge_Batches(t *testing.T) {
	t.Parallel()

	repo := &stubRetentionRepo{deleteResults: []int{2, 2, 1}}
	worker := NewRetentionWorker(repo, time.Hour, WithRetentionBatchSize(2))

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	deleted, err := worker.Purge(context.Background(), now)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if deleted != 5 {
		t.Fatalf("unexpected deleted total: got=%d want=5", deleted)
	}
	if calls := repo.calls(); calls != 3 {
		t.Fatalf("unexpected delete calls: got=%d want=3", calls)
	}
	if want := now.Add(-time.Hour); !repo.lastBefore.Equal(want) {
		t.Fatalf("unexpected cutoff: got=%s want=%s", repo.lastBefore, want)
	}
}

func TestRetentionWorker_Purge_Error(t *testing.T) {
	t.Parallel()

	repo := &stubRetentionRepo{deleteErrors: []error{domain.ErrStorageUnavailable}}
	worker := NewRetentionWorker(repo, time.Hour, WithRetentionBatchSize(10))

	deleted, err := worker.Purge(context.Background(), time.Now().UTC())
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if deleted != 0 {
		t.Fatalf("unexpected deleted total: got=%d want=0", deleted)
	}
}

func TestRetentionWorker_DefaultsForInvalidOptions(t *testing.T) {
	t.Parallel()

	worker := NewRetentionWorker(&stubRetentionRepo{}, 0, WithRetentionInterval(0), WithRetentionBatchSize(-1))
	if worker.retention != DefaultRetention {
		t.Fatalf("expected default retention, got %s", worker.retention)
	}
	if worker.interval != defaultRetentionInterval || worker.batchSize != defaultRetentionBatchSize {
		t.Fatalf("unexpected defaults: interval=%s batch=%d", worker.interval, worker.batchSize)
	}
}

func TestRetentionWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := &stubRetentionRepo{}
	worker := NewRetentionWorker(repo, time.Hour, WithRetentionInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
	if calls := repo.calls(); calls == 0 {
		t.Fatal("expected purge to be called at least once")
	}
}

func TestRetentionWorker_KeepsPendingMessages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewOutboxRepository()
	for _, id := range []string{"sent-1", "pending-1"} {
		if _, err := repo.Enqueue(ctx, domain.OutboxMessage{ID: id}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
	if err := repo.MarkSent(ctx, "sent-1"); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}

	worker := NewRetentionWorker(repo, time.Hour)
	deleted, err := worker.Purge(ctx, time.Now().UTC().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected one processed record deleted, got %d", deleted)
	}
	if pending := repo.AllPending(); len(pending) != 1 || pending[0].ID != "pending-1" {
		t.Fatalf("pending record must survive retention, got %+v", pending)
	}
}

type stubRetentionRepo struct {
	stubOutboxRepo

	mu            sync.Mutex
	deleteResults []int
	deleteErrors  []error
	callCount     int
	lastBefore    time.Time
}

func (s *stubRetentionRepo) DeleteProcessed(_ context.Context, before time.Time, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	s.lastBefore = before

	if len(s.deleteErrors) > 0 {
		err := s.deleteErrors[0]
		s.deleteErrors = s.deleteErrors[1:]
		if err != nil {
			return 0, err
		}
	}

	if len(s.deleteResults) == 0 {
		return 0, nil
	}
	result := s.deleteResults[0]
	s.deleteResults = s.deleteResults[1:]
	return result, nil
}

func (s *stubRetentionRepo) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}
