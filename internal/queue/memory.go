package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/luojidr/easypush/pkg/logger"
)

const memoryQueueDepth = 4096

// MemoryQueue is the single-process transport: a buffered channel. Used when
// no broker is configured and in tests.
type MemoryQueue struct {
	tasks     chan DeliveryTask
	closeOnce sync.Once
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{tasks: make(chan DeliveryTask, memoryQueueDepth)}
}

func (q *MemoryQueue) Publish(ctx context.Context, task DeliveryTask) error {
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("delivery queue is full (%d tasks)", memoryQueueDepth)
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task, ok := <-q.tasks:
			if !ok {
				return nil
			}

			if err := handler(ctx, task); err != nil {
				// One redelivery attempt, then drop: the push records stay
				// pending and the sweep loop will retry them.
				logger.Warnf("Delivery task failed, redelivering once: %v", err)
				if err := handler(ctx, task); err != nil {
					logger.Errorf("Delivery task failed after redelivery, dropping: %v", err)
				}
			}
		}
	}
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.tasks) })
	return nil
}
