package health

import (
	"context"
	"fmt"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// Pinger — зависимость, доступность которой проверяется пингом (PostgreSQL, Kafka).
type Pinger interface {
	Ping(ctx context.Context) error
}

// FuncChecker превращает функцию в проверку: ошибка означает unhealthy.
type FuncChecker struct {
	name    string
	fn      func(ctx context.Context) error
	timeout time.Duration
}

// NewFuncChecker создаёт проверку из функции; timeout <= 0 означает 2s.
func NewFuncChecker(name string, timeout time.Duration, fn func(ctx context.Context) error) *FuncChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &FuncChecker{name: name, fn: fn, timeout: timeout}
}

// NewPingChecker помечает компонент unhealthy, если Ping не успел или вернул ошибку.
func NewPingChecker(name string, pinger Pinger, timeout time.Duration) *FuncChecker {
	return NewFuncChecker(name, timeout, pinger.Ping)
}

func (c *FuncChecker) Check(ctx context.Context) Check {
	return timed(ctx, c.name, c.timeout, func(ctx context.Context) (Status, string) {
		if err := c.fn(ctx); err != nil {
			return StatusUnhealthy, err.Error()
		}
		return StatusHealthy, ""
	})
}

// BacklogChecker переводит компонент в degraded, когда очередь превышает порог.
// Ошибка чтения размера очереди считается unhealthy.
type BacklogChecker struct {
	name    string
	size    func(ctx context.Context) (int, error)
	max     int
	timeout time.Duration
}

// NewBacklogChecker создаёт проверку размера очереди (outbox, пул воркеров).
func NewBacklogChecker(name string, max int, size func(ctx context.Context) (int, error)) *BacklogChecker {
	return &BacklogChecker{name: name, size: size, max: max, timeout: defaultCheckTimeout}
}

func (c *BacklogChecker) Check(ctx context.Context) Check {
	return timed(ctx, c.name, c.timeout, func(ctx context.Context) (Status, string) {
		n, err := c.size(ctx)
		switch {
		case err != nil:
			return StatusUnhealthy, err.Error()
		case c.max > 0 && n > c.max:
			return StatusDegraded, fmt.Sprintf("backlog %d exceeds %d", n, c.max)
		default:
			return StatusHealthy, ""
		}
	})
}

func timed(ctx context.Context, name string, timeout time.Duration, probe func(ctx context.Context) (Status, string)) Check {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status, message := probe(ctx)
	return Check{
		Name:       name,
		Status:     status,
		Message:    message,
		DurationMs: time.Since(started).Milliseconds(),
	}
}
