package services

import (
	"context"
	"sync"
	"time"

	"keyshop-api/internal/metrics"
	"keyshop-api/pkg/logging"
)

// Dispatcher runs best effort side effects in the background. Failures are
// logged and counted, never returned to the caller that scheduled them.
type Dispatcher struct {
	wg      sync.WaitGroup
	timeout time.Duration
}

func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{timeout: timeout}
}

// Go schedules fn with its own timeout, detached from any request context.
func (d *Dispatcher) Go(kind string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.Notifications.WithLabelValues(kind, "panic").Inc()
				logging.Errorf("Background task panicked - kind: %s, panic: %v", kind, r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		err := fn(ctx)
		metrics.Notifications.WithLabelValues(kind, metrics.Result(err)).Inc()
		if err != nil {
			logging.Errorf("Background task failed - kind: %s, error: %v", kind, err)
		}
	}()
}

// Wait blocks until every scheduled task has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
