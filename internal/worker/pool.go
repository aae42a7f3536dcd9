package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Claimer is the consumer side of service.Queue.
type Claimer interface {
	Claim(ctx context.Context) (string, error)
}

type JobProcessor interface {
	Process(ctx context.Context, jobID string) error
}

type Pool struct {
	queue     Claimer
	processor JobProcessor
	workers   int
	log       *zap.Logger
}

func NewPool(queue Claimer, processor JobProcessor, workers int, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		queue:     queue,
		processor: processor,
		workers:   workers,
		log:       log,
	}
}

// Run claims job ids in FIFO order and hands each to exactly one worker.
// It returns after ctx is done and every in-flight job has finished.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("worker pool started", zap.Int("workers", p.workers))

	jobCh := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for jobID := range jobCh {
				// a failed job must not stop the worker
				if err := p.processor.Process(ctx, jobID); err != nil {
					p.log.Debug("process job", zap.Int("worker", n), zap.String("job_id", jobID), zap.Error(err))
				}
			}
		}(i + 1)
	}

	defer func() {
		close(jobCh)
		wg.Wait()
		p.log.Info("worker pool stopped")
	}()

	for {
		jobID, err := p.queue.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			p.log.Warn("claim job", zap.Error(err))
			continue
		}
		select {
		case jobCh <- jobID:
		case <-ctx.Done():
			// the claimed job stays pending; it is failed on the next restore
			return nil
		}
	}
}
