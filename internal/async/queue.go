package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrQueueClosed is returned by Enqueue once Shutdown has started.
var ErrQueueClosed = errors.New("queue is shutting down")

// Task is one scan run. Run receives a context bounded by the queue's process timeout.
type Task struct {
	JobID       uuid.UUID
	SubmittedAt time.Time
	Run         func(ctx context.Context) error
}

type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Shutdown(ctx context.Context)
}
