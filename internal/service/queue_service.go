package service

import (
	"context"
	"sync"

	"github.com/SGITme/whisper-MP3transcriber/internal/apperr"
)

type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	Claim(ctx context.Context) (string, error)
	Full() bool
}

// memoryQueue is a bounded FIFO of job ids shared by all front-ends.
// Enqueue never blocks: a full queue is reported as apperr.ErrQueueFull.
type memoryQueue struct {
	mu     sync.Mutex
	items  []string
	limit  int
	signal chan struct{}
}

func NewMemoryQueue(capacity int) Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &memoryQueue{
		limit:  capacity,
		signal: make(chan struct{}, 1),
	}
}

func (q *memoryQueue) Enqueue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	if len(q.items) >= q.limit {
		q.mu.Unlock()
		return apperr.ErrQueueFull
	}
	q.items = append(q.items, jobID)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Claim blocks until a job id is available or ctx is done.
func (q *memoryQueue) Claim(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				// keep other claimers awake
				select {
				case q.signal <- struct{}{}:
				default:
				}
			}
			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *memoryQueue) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) >= q.limit
}
