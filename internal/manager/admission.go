package manager

import (
	"context"
	"sync"
	"time"
)

// Acquire takes the single accelerator slot, waiting in a bounded queue.
// It returns a release func that is safe to call more than once. Waiting past
// MaxWait or finding the queue full for that long yields a too-busy error.
func (m *Manager) Acquire(ctx context.Context) (func(), error) {
	noop := func() {}
	if err := ctx.Err(); err != nil {
		return noop, err
	}
	start := time.Now()
	timer := time.NewTimer(m.cfg.MaxWait)
	defer timer.Stop()

	// Reserve a queue slot.
	select {
	case m.queueCh <- struct{}{}:
	case <-ctx.Done():
		return noop, ctx.Err()
	case <-timer.C:
		return noop, tooBusyError{waited: m.cfg.MaxWait.String()}
	}
	lockQueueLen.Set(float64(len(m.queueCh)))

	acquired := false
	defer func() {
		if !acquired {
			<-m.queueCh
			lockQueueLen.Set(float64(len(m.queueCh)))
		}
	}()
	// The same timer bounds the whole wait.
	select {
	case m.genCh <- struct{}{}:
		acquired = true
	case <-ctx.Done():
		return noop, ctx.Err()
	case <-timer.C:
		return noop, tooBusyError{waited: m.cfg.MaxWait.String()}
	}

	waited := time.Since(start)
	lockWaitSeconds.Observe(waited.Seconds())
	lockInflight.Set(1)
	m.publisher.Publish(Event{Name: "lock_acquired", Fields: map[string]any{"wait_ms": waited.Milliseconds()}})

	var once sync.Once
	held := time.Now()
	return func() {
		once.Do(func() {
			<-m.genCh
			<-m.queueCh
			lockInflight.Set(0)
			lockQueueLen.Set(float64(len(m.queueCh)))
			m.publisher.Publish(Event{Name: "lock_released", Fields: map[string]any{"held_ms": time.Since(held).Milliseconds()}})
		})
	}, nil
}
