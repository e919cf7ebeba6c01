package conditional

import (
	"context"
	"sync"

	"github.com/krobus00/coin-trader/internal/entity"
	"github.com/sirupsen/logrus"
)

// tickQueue is an unbounded FIFO. Ticks that arrive while a submission is in
// flight wait here instead of being dropped.
type tickQueue struct {
	mu     sync.Mutex
	ticks  []entity.PriceTick
	notify chan struct{}
}

func newTickQueue() *tickQueue {
	return &tickQueue{notify: make(chan struct{}, 1)}
}

func (q *tickQueue) push(tick entity.PriceTick) {
	q.mu.Lock()
	q.ticks = append(q.ticks, tick)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *tickQueue) pop() (entity.PriceTick, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ticks) == 0 {
		return entity.PriceTick{}, false
	}
	tick := q.ticks[0]
	q.ticks[0] = entity.PriceTick{}
	q.ticks = q.ticks[1:]

	return tick, true
}

func (q *tickQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ticks)
}

// OnTick enqueues a tick for Run. It never blocks.
func (r *Registry) OnTick(tick entity.PriceTick) {
	r.queue.push(tick)
}

func (r *Registry) Pending() int {
	return r.queue.len()
}

// Run evaluates queued ticks in arrival order until ctx is done. Submission
// failures are recorded on the order and logged, they never stop the loop.
func (r *Registry) Run(ctx context.Context) error {
	for {
		tick, ok := r.queue.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-r.queue.notify:
				continue
			}
		}

		if ctx.Err() != nil {
			return nil
		}

		if _, err := r.Evaluate(ctx, tick); err != nil {
			logrus.WithField("market", tick.Market).WithError(err).Warn("conditional evaluation finished with errors")
		}
	}
}
