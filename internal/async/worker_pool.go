package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WorkerPool runs queued tasks on a fixed number of goroutines.
type WorkerPool struct {
	logger  *slog.Logger
	workers int
	timeout time.Duration

	// base is cancelled when a shutdown deadline passes so running tasks unwind.
	base   context.Context
	cancel context.CancelFunc

	ch   chan Task
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*WorkerPool)(nil)

type Option func(*WorkerPool)

func WithWorkers(n int) Option {
	return func(q *WorkerPool) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *WorkerPool) {
		if n > 0 {
			q.ch = make(chan Task, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *WorkerPool) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewWorkerPool(logger *slog.Logger, opts ...Option) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	q := &WorkerPool{
		logger:  logger,
		workers: 4,
		timeout: 90 * time.Second,
		base:    base,
		cancel:  cancel,
		ch:      make(chan Task, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *WorkerPool) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("async.worker.started", "worker_id", workerID)

				for task := range q.ch {
					q.run(workerID, task)
				}

				q.logger.Debug("async.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *WorkerPool) run(workerID int, task Task) {
	ctx, cancel := context.WithTimeout(q.base, q.timeout)
	defer cancel()

	wait := time.Since(task.SubmittedAt)
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return task.Run(ctx)
	}()

	if err != nil {
		q.logger.Error("async.task.failed",
			"worker_id", workerID, "job_id", task.JobID, "error", err,
			"queue_wait_ms", wait.Milliseconds(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	q.logger.Info("async.task.done",
		"worker_id", workerID, "job_id", task.JobID,
		"queue_wait_ms", wait.Milliseconds(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
}

// Enqueue hands task to a worker. When the buffer is full it blocks until a slot
// frees up or ctx is done.
func (q *WorkerPool) Enqueue(ctx context.Context, task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("async.enqueue.closed", "job_id", task.JobID)
		return ErrQueueClosed
	}
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- task:
		q.logger.Debug("async.enqueue.ok", "job_id", task.JobID)
		return nil
	default:
	}
	q.logger.Warn("async.enqueue.backpressure", "job_id", task.JobID, "depth", len(q.ch))
	select {
	case q.ch <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth is the number of tasks waiting for a worker.
func (q *WorkerPool) Depth() int { return len(q.ch) }

// Shutdown stops accepting work and waits for queued tasks to drain. If ctx ends
// first, running tasks are cancelled.
func (q *WorkerPool) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("async.shutdown.interrupted", "pending", len(q.ch))
		q.cancel()
		<-done
	case <-done:
		q.logger.Info("async.shutdown.drained")
	}
	q.cancel()
}
