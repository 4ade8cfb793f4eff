// Package supervisor keeps the worker set alive: every worker runs as an
// independently cancellable goroutine, a periodic health check restarts
// any that crashed, and shutdown cancels them all and waits.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ferrovax/ironclaw/pkg/logger"
)

// DefaultHealthInterval is how often crashed workers are noticed.
const DefaultHealthInterval = 5 * time.Second

// WorkerFunc is a long-running worker body. It must return promptly when
// ctx is cancelled; any other return is treated as a crash.
type WorkerFunc func(ctx context.Context) error

type worker struct {
	name     string
	fn       WorkerFunc
	running  atomic.Bool
	restarts atomic.Int64
}

// Supervisor starts, health-checks, and restarts workers.
type Supervisor struct {
	interval time.Duration

	mu      sync.Mutex
	workers []*worker
	wg      sync.WaitGroup
}

// New creates a supervisor. interval <= 0 selects the default.
func New(interval time.Duration) *Supervisor {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &Supervisor{interval: interval}
}

// Add registers a worker. Call before Run.
func (s *Supervisor) Add(name string, fn WorkerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, &worker{name: name, fn: fn})
}

// Run starts every worker and blocks until ctx is cancelled and all
// workers have returned. A worker that exits while ctx is live is
// restarted on the next health tick; workers cancelled during shutdown
// are not.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	workers := s.workers
	s.mu.Unlock()

	for _, w := range workers {
		s.launch(ctx, w)
	}
	logger.InfoCF("supervisor", "Workers started", map[string]interface{}{
		"count": len(workers),
	})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, w := range workers {
				if !w.running.Load() {
					w.restarts.Add(1)
					logger.WarnCF("supervisor", "Restarting crashed worker", map[string]interface{}{
						"worker":   w.name,
						"restarts": w.restarts.Load(),
					})
					s.launch(ctx, w)
				}
			}
		case <-ctx.Done():
			s.wg.Wait()
			logger.InfoC("supervisor", "All workers stopped")
			return ctx.Err()
		}
	}
}

func (s *Supervisor) launch(ctx context.Context, w *worker) {
	if ctx.Err() != nil {
		return
	}
	w.running.Store(true)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer w.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorCF("supervisor", "Worker panicked", map[string]interface{}{
					"worker": w.name,
					"panic":  fmt.Sprint(r),
				})
			}
		}()

		err := w.fn(ctx)
		if err != nil && ctx.Err() == nil {
			logger.ErrorCF("supervisor", "Worker exited with error", map[string]interface{}{
				"worker": w.name,
				"error":  err.Error(),
			})
		}
	}()
}

// Restarts reports how many times a named worker has been restarted.
func (s *Supervisor) Restarts(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workers {
		if w.name == name {
			return w.restarts.Load()
		}
	}
	return 0
}
