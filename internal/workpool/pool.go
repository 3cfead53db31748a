// Package workpool provides the single-worker task pool used by the
// trajectory store and the script controller.
package workpool

import (
	"context"
	"sync"
)

// Pool runs at most one task at a time on its own goroutine.
type Pool struct {
	mu   sync.Mutex
	done chan struct{}
}

// Submit starts task unless one is still running, and reports whether it
// was started.
func (p *Pool) Submit(task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busyLocked() {
		return false
	}
	done := make(chan struct{})
	p.done = done
	go func() {
		defer close(done)
		task()
	}()
	return true
}

func (p *Pool) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busyLocked()
}

func (p *Pool) busyLocked() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Join waits for the running task, if any, to return.
func (p *Pool) Join() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// JoinContext is Join bounded by ctx.
func (p *Pool) JoinContext(ctx context.Context) error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Signal is a one-shot broadcast: Fire closes C exactly once.
type Signal struct {
	c    chan struct{}
	once sync.Once
}

func NewSignal() *Signal {
	return &Signal{c: make(chan struct{})}
}

func (s *Signal) Fire() {
	s.once.Do(func() { close(s.c) })
}

func (s *Signal) C() <-chan struct{} {
	return s.c
}

func (s *Signal) Fired() bool {
	select {
	case <-s.c:
		return true
	default:
		return false
	}
}
