package orchestrator

import (
	"context"
	"sync"
)

// turnstile admits callers strictly in index order. Index i may pass once
// every index below it has called Release.
type turnstile struct {
	gates []chan struct{}
	once  []sync.Once
}

func newTurnstile(n int) *turnstile {
	t := &turnstile{
		gates: make([]chan struct{}, n+1),
		once:  make([]sync.Once, n+1),
	}
	for i := range t.gates {
		t.gates[i] = make(chan struct{})
	}
	t.open(0)
	return t
}

// Wait blocks until it is index i's turn or ctx is done.
func (t *turnstile) Wait(ctx context.Context, i int) error {
	select {
	case <-t.gates[i]:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release lets index i+1 through. Safe to call more than once.
func (t *turnstile) Release(i int) {
	t.open(i + 1)
}

func (t *turnstile) open(i int) {
	t.once[i].Do(func() { close(t.gates[i]) })
}

// Do waits for index i's turn, runs fn and releases the next index. The next
// index is released even when waiting fails, so one cancelled caller cannot
// stall the rest.
func (t *turnstile) Do(ctx context.Context, i int, fn func() error) error {
	defer t.Release(i)
	if err := t.Wait(ctx, i); err != nil {
		return err
	}
	return fn()
}
