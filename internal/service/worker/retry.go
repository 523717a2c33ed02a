package worker

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig конфигурация для retry логики.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter — доля задержки (0..1), на которую Wait случайно сдвигает паузу.
	// 0 отключает разброс.
	Jitter float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	c.Jitter = min(max(c.Jitter, 0), 1)
	return c
}

// Delay возвращает задержку перед попыткой attempt+1 (attempt начинается с 1).
func (c RetryConfig) Delay(attempt int) time.Duration {
	delay := c.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.BackoffFactor)
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// Wait ждёт задержку перед попыткой attempt+1; раньше возвращается только при отмене ctx.
func (c RetryConfig) Wait(ctx context.Context, attempt int) error {
	return sleep(ctx, c.jittered(c.Delay(attempt)))
}

// jittered сдвигает delay в пределах ±Jitter*delay.
func (c RetryConfig) jittered(delay time.Duration) time.Duration {
	if c.Jitter <= 0 || delay <= 0 {
		return delay
	}
	spread := float64(delay) * min(c.Jitter, 1)
	return delay + time.Duration(spread*(2*rand.Float64()-1))
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
