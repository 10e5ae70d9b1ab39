// Package workpool bounds how many slow calls (inference, tagging) run at
// once.
package workpool

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("workpool: closed")

type task struct {
	ctx context.Context
	run func(context.Context)
}

// Pool is a fixed set of worker goroutines fed from one queue.
type Pool struct {
	tasks chan task
	wg    sync.WaitGroup

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// New starts size workers; size below 1 means 1.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{tasks: make(chan task)}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for t := range p.tasks {
				t.run(t.ctx)
			}
		}()
	}
	return p
}

// Do runs fn on a worker and waits for its result. It returns early with
// ctx's error if ctx ends before a worker picks the call up or before fn
// returns; fn still sees the same ctx.
func Do[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	type result struct {
		v   T
		err error
	}
	out := make(chan result, 1)
	t := task{ctx: ctx, run: func(ctx context.Context) {
		if err := ctx.Err(); err != nil {
			out <- result{err: err}
			return
		}
		v, err := fn(ctx)
		out <- result{v, err}
	}}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return zero, ErrClosed
	}
	select {
	case p.tasks <- t:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return zero, ctx.Err()
	}

	select {
	case r := <-out:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close stops accepting work and waits for running calls to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
		p.wg.Wait()
	})
}

// Parallel runs fn over inputs with at most limit calls in flight and
// returns the first error, cancelling the rest.
func Parallel[T any](ctx context.Context, inputs []T, limit int, fn func(context.Context, T) error) error {
	if len(inputs) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	feed := make(chan T)
	errCh := make(chan error, 1)

	var wg sync.WaitGroup
	for i := 0; i < min(limit, len(inputs)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range feed {
				if err := fn(ctx, item); err != nil {
					select {
					case errCh <- err:
						cancel()
					default:
					}
					return
				}
			}
		}()
	}

	go func() {
		defer close(feed)
		for _, item := range inputs {
			select {
			case <-ctx.Done():
				return
			case feed <- item:
			}
		}
	}()

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}
