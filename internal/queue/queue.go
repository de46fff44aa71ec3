package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/maltedev/shelf-crawler/internal/models"
)

var ErrQueueClosed = errors.New("queue is closed")

type Queue interface {
	Push(unit *models.WorkUnit) error
	Pop(ctx context.Context) (*models.WorkUnit, error)
	Len() int
	Close() error
}

// InMemoryQueue is a FIFO of work units. Retries are pushed to the tail so
// queued order is kept across retry scheduling.
type InMemoryQueue struct {
	units  []*models.WorkUnit
	mu     sync.Mutex
	wake   chan struct{}
	closed bool
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		units: make([]*models.WorkUnit, 0),
		wake:  make(chan struct{}),
	}
}

func (q *InMemoryQueue) Push(unit *models.WorkUnit) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.units = append(q.units, unit)
	q.broadcast()

	return nil
}

// Pop blocks until a unit is available, the queue is closed and drained, or
// ctx is done.
func (q *InMemoryQueue) Pop(ctx context.Context) (*models.WorkUnit, error) {
	for {
		q.mu.Lock()
		if len(q.units) > 0 {
			unit := q.units[0]
			q.units[0] = nil
			q.units = q.units[1:]
			q.mu.Unlock()
			return unit, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

// PopBatch blocks like Pop for the first unit, then takes up to limit-1 more
// without waiting.
func (q *InMemoryQueue) PopBatch(ctx context.Context, limit int) ([]*models.WorkUnit, error) {
	first, err := q.Pop(ctx)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n := max(0, min(limit-1, len(q.units)))
	batch := make([]*models.WorkUnit, 0, n+1)
	batch = append(batch, first)
	batch = append(batch, q.units[:n]...)
	clear(q.units[:n])
	q.units = q.units[n:]
	return batch, nil
}

func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units)
}

// Drain removes and returns every queued unit.
func (q *InMemoryQueue) Drain() []*models.WorkUnit {
	q.mu.Lock()
	defer q.mu.Unlock()

	units := q.units
	q.units = make([]*models.WorkUnit, 0)
	return units
}

func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		q.broadcast()
	}

	return nil
}

// broadcast must be called with q.mu held.
func (q *InMemoryQueue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}
