package worker

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	"github.com/vladislavdragonenkov/reconciler/internal/metrics"
	"github.com/vladislavdragonenkov/reconciler/internal/service/reconcile"
)

// Определение ошибок пула.
var (
	ErrQueueFull  = errors.New("task queue is full")
	ErrPoolClosed = errors.New("task pool is closed")
)

const (
	defaultWorkers  = 4
	defaultCapacity = 256
)

// Handler обрабатывает одну задачу сверки.
type Handler interface {
	Handle(ctx context.Context, task reconcile.Task) (reconcile.Outcome, error)
}

// HandlerFunc позволяет использовать функцию как Handler.
type HandlerFunc func(ctx context.Context, task reconcile.Task) (reconcile.Outcome, error)

// Handle вызывает f.
func (f HandlerFunc) Handle(ctx context.Context, task reconcile.Task) (reconcile.Outcome, error) {
	return f(ctx, task)
}

// Result — итог выполнения задачи, включая число попыток.
type Result struct {
	Outcome  reconcile.Outcome
	Err      error
	Attempts int
}

type job struct {
	ctx    context.Context
	task   reconcile.Task
	result chan Result
}

// Option настраивает Pool.
type Option func(*Pool)

// WithWorkers задаёт количество воркеров.
func WithWorkers(n int) Option {
	return func(p *Pool) { p.workers = n }
}

// WithCapacity задаёт ёмкость очереди.
func WithCapacity(n int) Option {
	return func(p *Pool) { p.capacity = n }
}

// WithRetry задаёт политику повторов для временных ошибок.
func WithRetry(cfg RetryConfig) Option {
	return func(p *Pool) { p.retry = cfg }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithMetrics задаёт метрики пула.
func WithMetrics(m *metrics.ReconcileMetrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// Pool выполняет задачи сверки в N воркерах с ограниченной очередью.
// Временные ошибки хранилища повторяются с экспоненциальной задержкой.
type Pool struct {
	handler  Handler
	workers  int
	capacity int
	retry    RetryConfig
	logger   *log.Entry
	metrics  *metrics.ReconcileMetrics

	jobs      chan job
	quit      chan struct{}
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPool создаёт пул. Воркеры запускаются методом Start.
func NewPool(handler Handler, options ...Option) *Pool {
	p := &Pool{
		handler:  handler,
		workers:  defaultWorkers,
		capacity: defaultCapacity,
		retry:    DefaultRetryConfig(),
	}
	for _, option := range options {
		option(p)
	}
	if p.workers <= 0 {
		p.workers = defaultWorkers
	}
	if p.capacity < 0 {
		p.capacity = defaultCapacity
	}
	if p.logger == nil {
		p.logger = log.WithField("component", "task-pool")
	}
	p.retry = p.retry.normalized()
	p.jobs = make(chan job, p.capacity)
	p.quit = make(chan struct{})
	return p
}

// Pending возвращает число задач, ожидающих свободного воркера.
func (p *Pool) Pending() int {
	return len(p.jobs)
}

// Start запускает воркеры. Повторные вызовы игнорируются.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.loop(i + 1)
		}
		p.logger.WithField("workers", p.workers).Info("task pool started")
	})
}

// Submit ставит задачу в очередь, ожидая свободного места, и возвращает канал результата.
func (p *Pool) Submit(ctx context.Context, task reconcile.Task) (<-chan Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	j := job{ctx: ctx, task: task, result: make(chan Result, 1)}
	select {
	case p.jobs <- j:
		p.metrics.SetQueueDepth(len(p.jobs))
		return j.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.quit:
		return nil, ErrPoolClosed
	}
}

// TrySubmit ставит задачу в очередь без ожидания.
func (p *Pool) TrySubmit(ctx context.Context, task reconcile.Task) (<-chan Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	j := job{ctx: ctx, task: task, result: make(chan Result, 1)}
	select {
	case p.jobs <- j:
		p.metrics.SetQueueDepth(len(p.jobs))
		return j.result, nil
	default:
		return nil, ErrQueueFull
	}
}

// Shutdown закрывает очередь и ждёт, пока воркеры обработают уже принятые задачи.
func (p *Pool) Shutdown() {
	p.stopOnce.Do(func() {
		close(p.quit)

		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()

		p.wg.Wait()
		p.logger.Info("task pool stopped")
	})
}

func (p *Pool) loop(workerID int) {
	defer p.wg.Done()

	for j := range p.jobs {
		p.metrics.SetQueueDepth(len(p.jobs))
		p.metrics.TaskStarted()
		res := p.execute(j.ctx, j.task)
		p.metrics.TaskFinished()

		if res.Err != nil {
			p.logger.WithError(res.Err).WithFields(log.Fields{
				"worker":   workerID,
				"order_id": j.task.Event.OrderID,
				"attempts": res.Attempts,
			}).Warn("task failed")
		}
		j.result <- res
	}
}

func (p *Pool) execute(ctx context.Context, task reconcile.Task) Result {
	var (
		outcome reconcile.Outcome
		err     error
	)

	for attempt := 1; attempt <= p.retry.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{Outcome: reconcile.OutcomeFailed, Err: ctxErr, Attempts: attempt - 1}
		}

		outcome, err = p.handler.Handle(ctx, task)
		if err == nil || !domain.IsRetryable(err) || attempt == p.retry.MaxAttempts {
			return Result{Outcome: outcome, Err: err, Attempts: attempt}
		}

		delay := p.retry.jittered(p.retry.Delay(attempt))
		p.metrics.RecordTaskRetry()
		p.logger.WithError(err).WithFields(log.Fields{
			"order_id": task.Event.OrderID,
			"attempt":  attempt,
			"delay":    delay,
		}).Warn("retryable task error, retrying")

		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return Result{Outcome: outcome, Err: err, Attempts: attempt}
		}
	}

	return Result{Outcome: outcome, Err: err, Attempts: p.retry.MaxAttempts}
}
