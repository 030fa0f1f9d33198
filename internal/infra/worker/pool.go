// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var ErrPoolStopped = errors.New("worker pool stopped")

type Task = func(ctx context.Context) error

// Pool runs submitted tasks with per-key FIFO ordering. Each key with pending
// work gets its own goroutine, so a slow task only delays later tasks of the
// same key. The goroutine exits once its queue drains.
type Pool struct {
	name string
	log  *zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	queues  map[string][]Task
	stopped bool
	wg      sync.WaitGroup
}

func NewPool(name string, logger *zerolog.Logger) *Pool {
	l := logger.With().Str("component", "WorkerPool").Str("pool", name).Logger()
	return &Pool{
		name:   name,
		log:    &l,
		queues: make(map[string][]Task),
	}
}

// Start binds the pool to ctx; tasks receive a context derived from it.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx != nil {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
}

// Submit enqueues task behind any pending task with the same key.
func (p *Pool) Submit(key string, task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolStopped
	}
	if p.ctx == nil {
		p.ctx, p.cancel = context.WithCancel(context.Background())
	}
	if q, busy := p.queues[key]; busy {
		p.queues[key] = append(q, task)
		return nil
	}
	p.queues[key] = []Task{task}
	p.wg.Add(1)
	go p.drain(key)
	return nil
}

func (p *Pool) drain(key string) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		q := p.queues[key]
		if len(q) == 0 {
			delete(p.queues, key)
			p.mu.Unlock()
			return
		}
		task := q[0]
		q[0] = nil
		p.queues[key] = q[1:]
		ctx := p.ctx
		p.mu.Unlock()

		p.run(ctx, key, task)
	}
}

func (p *Pool) run(ctx context.Context, key string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("key", key).Interface("panic", r).Msg("task panicked")
		}
	}()
	if err := task(ctx); err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("task error")
	}
}

// Pending returns the number of keys with queued or running work.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queues)
}

// Stop refuses new work and waits for queued tasks to finish. When ctx expires
// first, the task context is cancelled and Stop keeps waiting for the running
// tasks to return.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.log.Warn().Msg("stop deadline reached; cancelling running tasks")
		if cancel != nil {
			cancel()
		}
		<-done
	}
	if cancel != nil {
		cancel()
	}
}
