package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
)

// Handler runs one job to completion; the context carries the per-job
// wall-clock budget.
type Handler func(ctx context.Context, jobID uuid.UUID)

// Queue is a bounded worker pool draining enqueued jobs. Each job gets a
// fresh context with the configured budget so one stuck extraction cannot
// hold a worker forever.
type Queue struct {
	handler Handler
	logger  *slog.Logger
	workers int
	budget  time.Duration

	ch   chan uuid.UUID
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	closeOnce sync.Once
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan uuid.UUID, n)
		}
	}
}
func WithJobBudget(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.budget = d
		}
	}
}

func NewQueue(handler Handler, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		handler: handler,
		logger:  logger,
		workers: 4,
		budget:  5 * time.Minute,
		ch:      make(chan uuid.UUID, 256),
		quit:    make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for {
					select {
					case <-q.quit:
						q.drain()
						q.logger.Info("worker stopped", "worker_id", workerID)
						return
					case jobID := <-q.ch:
						q.run(jobID)
					}
				}
			}(i + 1)
		}
	})
}

// drain empties whatever is left in the buffer after shutdown begins.
func (q *Queue) drain() {
	for {
		select {
		case jobID := <-q.ch:
			q.run(jobID)
		default:
			return
		}
	}
}

func (q *Queue) run(jobID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), q.budget)
	defer cancel()
	q.handler(ctx, jobID)
}

// Submit hands a job to the pool. A full queue blocks the caller rather
// than dropping work; a closed queue rejects it, including callers already
// blocked waiting for buffer space.
func (q *Queue) Submit(jobID uuid.UUID) error {
	select {
	case <-q.quit:
		return fmt.Errorf("queue is shutting down")
	default:
	}

	select {
	case q.ch <- jobID:
		q.logger.Debug("job queued", "job_id", jobID)
		return nil
	default:
	}

	q.logger.Warn("queue full, applying backpressure", "job_id", jobID)
	select {
	case q.ch <- jobID:
		return nil
	case <-q.quit:
		return fmt.Errorf("queue is shutting down")
	}
}

// Shutdown stops intake and waits for in-flight jobs until ctx expires.
// The job channel is never closed, so a submitter blocked on backpressure
// unblocks with an error instead of panicking on a closed channel.
func (q *Queue) Shutdown(ctx context.Context) {
	q.closeOnce.Do(func() { close(q.quit) })

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
