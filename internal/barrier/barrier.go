// Package barrier implements the two-phase start gate used to line workers
// up before load begins: every worker signals ready, then all of them are
// released at the same instant.
package barrier

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Barrier is a countdown of N ready signals gating a one-shot release.
type Barrier struct {
	n       int64
	arrived atomic.Int64

	allReady chan struct{}
	release  chan struct{}
	once     sync.Once

	releasedAt atomic.Int64 // unix nanos, 0 until released
}

// New creates a barrier for n participants. With n <= 0 the ready phase is
// already complete.
func New(n int) *Barrier {
	b := &Barrier{
		n:        int64(n),
		allReady: make(chan struct{}),
		release:  make(chan struct{}),
	}
	if n <= 0 {
		close(b.allReady)
	}
	return b
}

// Arrive records one ready signal. Each participant must call it exactly once,
// including participants that failed to set up, so nobody waits forever.
// It returns the number of participants still outstanding.
func (b *Barrier) Arrive() int {
	got := b.arrived.Add(1)
	if got == b.n {
		close(b.allReady)
	}
	return int(max(b.n-got, 0))
}

// Arrived returns the number of ready signals received so far.
func (b *Barrier) Arrived() int { return int(b.arrived.Load()) }

// AwaitReady blocks until every participant has arrived or ctx ends.
func (b *Barrier) AwaitReady(ctx context.Context) error {
	select {
	case <-b.allReady:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release opens the gate. Only the first call has an effect and returns true.
func (b *Barrier) Release() bool {
	fired := false
	b.once.Do(func() {
		b.releasedAt.Store(time.Now().UnixNano())
		close(b.release)
		fired = true
	})
	return fired
}

// Wait blocks the caller until the gate opens or ctx ends.
func (b *Barrier) Wait(ctx context.Context) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleasedAt returns when the gate opened, or the zero time if it has not.
func (b *Barrier) ReleasedAt() time.Time {
	ns := b.releasedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
